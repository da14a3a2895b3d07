package database

import (
	"sync"
	"testing"
	"time"

	"github.com/soverin/bindery/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkersNewWorkersDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewWorkersDBHandler", func(t *testing.T) {
		workersDbHandler, err := NewWorkersDBHandler(database, true)
		assert.NoError(t, err, "Expected NewWorkersDBHandler to not return an error")
		require.NotNil(t, workersDbHandler, "Expected NewWorkersDBHandler to return a non-nil instance")
	})

	t.Run("Invalid call NewWorkersDBHandler with nil database", func(t *testing.T) {
		_, err := NewWorkersDBHandler(nil, false)
		assert.Error(t, err, "Expected error when creating WorkersDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})
}

func insertTestDocument(t *testing.T, documents *DocumentsDBHandler, title, content string) *model.Document {
	t.Helper()
	doc := model.NewDocument(title, title+".txt", "owner-workers", content, nil)
	require.NoError(t, documents.InsertDocument(doc))
	t.Cleanup(func() {
		documents.DeleteDocument(doc.RID)
	})
	return doc
}

func TestWorkersClaim(t *testing.T) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)
	workersDbHandler, err := NewWorkersDBHandler(database, true)
	require.NoError(t, err)

	t.Run("First claim succeeds, second is rejected", func(t *testing.T) {
		doc := insertTestDocument(t, documentsDbHandler, "Claim Target", "claim target content")

		claimed, err := workersDbHandler.ClaimDocument(doc.ID, "instance-a")
		assert.NoError(t, err)
		assert.True(t, claimed, "Expected first claim to succeed")

		claimed, err = workersDbHandler.ClaimDocument(doc.ID, "instance-b")
		assert.NoError(t, err)
		assert.False(t, claimed, "Expected second claim to be rejected")

		workersDbHandler.ReleaseDocument(doc.ID, "instance-a")
	})

	t.Run("Exactly one of many concurrent claims succeeds", func(t *testing.T) {
		doc := insertTestDocument(t, documentsDbHandler, "Contended Target", "contended target content")

		const contenders = 8
		var wg sync.WaitGroup
		successes := make(chan string, contenders)

		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(instance string) {
				defer wg.Done()
				claimed, err := workersDbHandler.ClaimDocument(doc.ID, instance)
				assert.NoError(t, err)
				if claimed {
					successes <- instance
				}
			}(time.Now().Format("instance-150405.000000") + string(rune('a'+i)))
		}

		wg.Wait()
		close(successes)

		var winners []string
		for winner := range successes {
			winners = append(winners, winner)
		}
		require.Len(t, winners, 1, "Expected exactly one concurrent claim to succeed")

		workersDbHandler.ReleaseDocument(doc.ID, winners[0])
	})

	t.Run("Document can be claimed again after release", func(t *testing.T) {
		doc := insertTestDocument(t, documentsDbHandler, "Reclaim Target", "reclaim target content")

		claimed, err := workersDbHandler.ClaimDocument(doc.ID, "instance-a")
		require.NoError(t, err)
		require.True(t, claimed)

		err = workersDbHandler.ReleaseDocument(doc.ID, "instance-a")
		assert.NoError(t, err)

		claimed, err = workersDbHandler.ClaimDocument(doc.ID, "instance-b")
		assert.NoError(t, err)
		assert.True(t, claimed, "Expected claim to succeed after release")

		workersDbHandler.ReleaseDocument(doc.ID, "instance-b")
	})
}

func TestWorkersRelease(t *testing.T) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)
	workersDbHandler, err := NewWorkersDBHandler(database, true)
	require.NoError(t, err)

	doc := insertTestDocument(t, documentsDbHandler, "Release Target", "release target content")

	t.Run("Release without claim is a no-op", func(t *testing.T) {
		err := workersDbHandler.ReleaseDocument(doc.ID, "instance-none")
		assert.NoError(t, err, "Expected release without claim to not error")
	})

	t.Run("Release is idempotent", func(t *testing.T) {
		claimed, err := workersDbHandler.ClaimDocument(doc.ID, "instance-a")
		require.NoError(t, err)
		require.True(t, claimed)

		err = workersDbHandler.ReleaseDocument(doc.ID, "instance-a")
		assert.NoError(t, err)
		err = workersDbHandler.ReleaseDocument(doc.ID, "instance-a")
		assert.NoError(t, err, "Expected repeated release to not error")
	})

	t.Run("Release by another instance does not drop the claim", func(t *testing.T) {
		claimed, err := workersDbHandler.ClaimDocument(doc.ID, "instance-a")
		require.NoError(t, err)
		require.True(t, claimed)

		err = workersDbHandler.ReleaseDocument(doc.ID, "instance-b")
		assert.NoError(t, err)

		claimed, err = workersDbHandler.ClaimDocument(doc.ID, "instance-b")
		assert.NoError(t, err)
		assert.False(t, claimed, "Expected claim to still be held by instance-a")

		workersDbHandler.ReleaseDocument(doc.ID, "instance-a")
	})
}

func TestWorkersCountAndHeartbeat(t *testing.T) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)
	workersDbHandler, err := NewWorkersDBHandler(database, true)
	require.NoError(t, err)

	docA := insertTestDocument(t, documentsDbHandler, "Count A", "count a content")
	docB := insertTestDocument(t, documentsDbHandler, "Count B", "count b content")

	t.Run("Count reflects live registrations", func(t *testing.T) {
		before, err := workersDbHandler.CountWorkers()
		require.NoError(t, err)

		claimed, err := workersDbHandler.ClaimDocument(docA.ID, "instance-a")
		require.NoError(t, err)
		require.True(t, claimed)
		claimed, err = workersDbHandler.ClaimDocument(docB.ID, "instance-a")
		require.NoError(t, err)
		require.True(t, claimed)

		after, err := workersDbHandler.CountWorkers()
		assert.NoError(t, err)
		assert.Equal(t, before+2, after, "Expected two new registrations to be counted")
	})

	t.Run("Heartbeat refreshes the registration", func(t *testing.T) {
		registrations, err := workersDbHandler.SelectWorkers()
		require.NoError(t, err)
		var before time.Time
		for _, r := range registrations {
			if r.DocumentID == docA.ID {
				before = r.UpdatedAt
			}
		}
		require.False(t, before.IsZero(), "Expected registration for docA")

		time.Sleep(50 * time.Millisecond)
		err = workersDbHandler.HeartbeatWorker(docA.ID, "instance-a")
		assert.NoError(t, err)

		registrations, err = workersDbHandler.SelectWorkers()
		require.NoError(t, err)
		for _, r := range registrations {
			if r.DocumentID == docA.ID {
				assert.True(t, r.UpdatedAt.After(before), "Expected heartbeat to move the timestamp forward")
			}
		}
	})

	// Cleanup
	workersDbHandler.ReleaseDocument(docA.ID, "instance-a")
	workersDbHandler.ReleaseDocument(docB.ID, "instance-a")
}

func TestWorkersDeleteStale(t *testing.T) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)
	workersDbHandler, err := NewWorkersDBHandler(database, true)
	require.NoError(t, err)

	doc := insertTestDocument(t, documentsDbHandler, "Stale Target", "stale target content")

	claimed, err := workersDbHandler.ClaimDocument(doc.ID, "instance-stale")
	require.NoError(t, err)
	require.True(t, claimed)

	t.Run("Fresh registrations survive", func(t *testing.T) {
		deleted, err := workersDbHandler.DeleteStaleWorkers(time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, 0, deleted, "Expected no fresh registrations to be deleted")
	})

	t.Run("Stale registrations are removed", func(t *testing.T) {
		time.Sleep(100 * time.Millisecond)

		deleted, err := workersDbHandler.DeleteStaleWorkers(50 * time.Millisecond)
		assert.NoError(t, err)
		assert.Equal(t, 1, deleted, "Expected the aged registration to be deleted")

		claimed, err := workersDbHandler.ClaimDocument(doc.ID, "instance-new")
		assert.NoError(t, err)
		assert.True(t, claimed, "Expected document to be claimable after stale cleanup")

		workersDbHandler.ReleaseDocument(doc.ID, "instance-new")
	})
}
