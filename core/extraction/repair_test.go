package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadata(t *testing.T) {
	t.Run("Valid JSON parses directly", func(t *testing.T) {
		metadata, parseErr := ParseMetadata(`{"title": "A Letter", "year": 1998}`)
		require.Nil(t, parseErr)
		assert.Equal(t, "A Letter", metadata["title"])
		assert.EqualValues(t, 1998, metadata["year"])
	})

	t.Run("Markdown code fence is tolerated", func(t *testing.T) {
		payload := "```json\n{\"title\": \"Fenced\"}\n```"
		metadata, parseErr := ParseMetadata(payload)
		require.Nil(t, parseErr)
		assert.Equal(t, "Fenced", metadata["title"])
	})

	t.Run("Missing opening quote is repaired locally", func(t *testing.T) {
		metadata, parseErr := ParseMetadata(`{"title": "Doc", year": 1998}`)
		require.Nil(t, parseErr)
		assert.EqualValues(t, 1998, metadata["year"], "Expected repaired key to parse")
	})

	t.Run("Empty payload yields an empty parse error", func(t *testing.T) {
		_, parseErr := ParseMetadata("   ")
		require.NotNil(t, parseErr)
		assert.Equal(t, "empty", parseErr.Kind)
	})

	t.Run("Unrepairable payload yields a syntax parse error", func(t *testing.T) {
		_, parseErr := ParseMetadata("this is not json at all")
		require.NotNil(t, parseErr)
		assert.Equal(t, "syntax", parseErr.Kind)
		assert.NotEmpty(t, parseErr.Message)
	})
}

func TestParseErrorEqual(t *testing.T) {
	t.Run("Identical failures compare equal", func(t *testing.T) {
		a := &ParseError{Kind: "syntax", Message: "unexpected token"}
		b := &ParseError{Kind: "syntax", Message: "unexpected token"}
		assert.True(t, a.Equal(b))
	})

	t.Run("Different failures compare unequal", func(t *testing.T) {
		a := &ParseError{Kind: "syntax", Message: "unexpected token"}
		b := &ParseError{Kind: "syntax", Message: "unexpected end"}
		assert.False(t, a.Equal(b))
		assert.False(t, a.Equal(nil))
	})
}

func TestRepairJSON(t *testing.T) {
	t.Run("Missing opening quote after comma", func(t *testing.T) {
		repaired := RepairJSON(`{"a": 1, b": 2}`)
		assert.Equal(t, `{"a": 1, "b": 2}`, repaired)
	})

	t.Run("Missing opening quote after brace", func(t *testing.T) {
		repaired := RepairJSON(`{key": "value"}`)
		assert.Equal(t, `{"key": "value"}`, repaired)
	})

	t.Run("Well-formed JSON passes through unchanged", func(t *testing.T) {
		payload := `{"a": 1, "b": {"c": [1, 2]}}`
		assert.Equal(t, payload, RepairJSON(payload))
	})
}
