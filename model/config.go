package model

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// QueryConfig represents configuration for a retrieval query
type QueryConfig struct {
	// Result limits
	MatchCount     int     `json:"match_count"`
	MatchThreshold float64 `json:"match_threshold,omitempty"`
	// FallbackCount caps the vector-only fallback when the combined
	// query fails, deliberately smaller than MatchCount.
	FallbackCount int `json:"fallback_count"`

	// Score weights. They conceptually sum to 1.0 but are not enforced
	// to, callers may deliberately bias one signal.
	VectorWeight   float64 `json:"vector_weight"`
	FulltextWeight float64 `json:"fulltext_weight"`

	// Filters
	FilterYear       *int     `json:"filter_year,omitempty"`
	FilterMonth      *int     `json:"filter_month,omitempty"`
	FilterCategories []string `json:"filter_categories,omitempty"`
	OwnerID          string   `json:"owner_id,omitempty"`

	// Reranking. The reranker only runs when more than RerankThreshold
	// results survive deduplication.
	RerankThreshold int `json:"rerank_threshold"`
}

// DefaultQueryConfig returns a sensible default configuration
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		MatchCount:      10,
		MatchThreshold:  0.3,
		FallbackCount:   5,
		VectorWeight:    0.7,
		FulltextWeight:  0.3,
		RerankThreshold: 3,
	}
}

// RunConfig configures a processing run and the adaptive resource
// controller attached to it.
type RunConfig struct {
	// Parallelism bounds. MaxParallel is the hard ceiling the adaptive
	// controller can never exceed, InitialParallel is where it starts.
	MinParallel     int `envconfig:"BINDERY_MIN_PARALLEL" default:"1"`
	MaxParallel     int `envconfig:"BINDERY_MAX_PARALLEL" default:"8"`
	InitialParallel int `envconfig:"BINDERY_INITIAL_PARALLEL" default:"2"`

	// Throttle applied between task starts.
	ThrottleStep time.Duration `envconfig:"BINDERY_THROTTLE_STEP" default:"250ms"`
	ThrottleCap  time.Duration `envconfig:"BINDERY_THROTTLE_CAP" default:"2s"`

	// Loop intervals.
	MonitorInterval   time.Duration `envconfig:"BINDERY_MONITOR_INTERVAL" default:"2s"`
	AdmissionInterval time.Duration `envconfig:"BINDERY_ADMISSION_INTERVAL" default:"200ms"`
	ReconcileInterval time.Duration `envconfig:"BINDERY_RECONCILE_INTERVAL" default:"30s"`

	// Batch size when pulling pending documents.
	BatchSize int `envconfig:"BINDERY_BATCH_SIZE" default:"50"`

	// FallbackDir receives finished results that could not be persisted.
	FallbackDir string `envconfig:"BINDERY_FALLBACK_DIR" default:"./fallback"`
}

// RunConfigFromEnv loads the run configuration from BINDERY_* environment
// variables, falling back to the tagged defaults.
func RunConfigFromEnv() (RunConfig, error) {
	var config RunConfig
	if err := envconfig.Process("", &config); err != nil {
		return RunConfig{}, err
	}
	return config, nil
}

// DefaultRunConfig returns run defaults without consulting the environment.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MinParallel:       1,
		MaxParallel:       8,
		InitialParallel:   2,
		ThrottleStep:      250 * time.Millisecond,
		ThrottleCap:       2 * time.Second,
		MonitorInterval:   2 * time.Second,
		AdmissionInterval: 200 * time.Millisecond,
		ReconcileInterval: 30 * time.Second,
		BatchSize:         50,
		FallbackDir:       "./fallback",
	}
}
