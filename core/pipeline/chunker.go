package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/soverin/bindery/model"
)

const (
	// DefaultParentSize is the rune size of parent context windows.
	DefaultParentSize = 1500
	// DefaultChildSize is the rune size of child retrieval windows.
	DefaultChildSize = 200
	// DefaultChildOverlap is the rune overlap between adjacent children.
	DefaultChildOverlap = 50
)

// metadataChunkFields are the semantically distinct metadata fields that
// become their own chunks, in deterministic order. Splitting them out
// keeps a high-signal field like the title from being diluted inside one
// giant content blob.
var metadataChunkFields = []string{
	"title", "subject", "sender", "summary", "dates", "tags", "entities",
}

// LayeredChunker builds the full chunk hierarchy for one document:
// parent context windows, overlapping child retrieval windows linked to
// their parent, one chunk per distinct metadata field, and synthetic
// prose chunks flattened from nested structured data. Indices are
// contiguous across all kinds.
func LayeredChunker(parentSize, childSize, childOverlap int) ChunkFunc {
	return func(text string, metadata model.Metadata) ([]*model.Chunk, error) {
		if parentSize <= 0 || childSize <= 0 {
			return nil, fmt.Errorf("chunk sizes must be positive")
		}
		if childOverlap < 0 || childOverlap >= childSize {
			return nil, fmt.Errorf("child overlap must be in [0, child size)")
		}

		var chunks []*model.Chunk
		index := 0

		// Parent windows over the full text, no overlap.
		parents := splitWindows(text, parentSize, 0)
		parentIndexAt := make([]int, len(parents))
		for i, w := range parents {
			parentIndexAt[i] = index
			label := fmt.Sprintf("section_%d", i)
			chunks = append(chunks, &model.Chunk{
				ChunkIndex:    index,
				Content:       w.content,
				ContentLength: len(w.content),
				Kind:          model.ChunkKindParent,
				SearchWeight:  model.WeightForField("body"),
				SectionLabel:  &label,
			})
			index++
		}

		// Child windows with overlap, each linked to the parent window
		// containing its start position.
		for _, w := range splitWindows(text, childSize, childOverlap) {
			parentIdx := linkParent(parents, parentIndexAt, w.start)
			chunks = append(chunks, &model.Chunk{
				ChunkIndex:    index,
				Content:       w.content,
				ContentLength: len(w.content),
				Kind:          model.ChunkKindChild,
				SearchWeight:  model.WeightForField("body"),
				ParentIndex:   parentIdx,
			})
			index++
		}

		// One chunk per semantically distinct metadata field.
		for _, field := range metadataChunkFields {
			content := metadataFieldText(metadata, field)
			if content == "" {
				continue
			}
			label := field
			chunks = append(chunks, &model.Chunk{
				ChunkIndex:    index,
				Content:       content,
				ContentLength: len(content),
				Kind:          model.ChunkKindMetadata,
				SearchWeight:  model.WeightForField(field),
				SectionLabel:  &label,
			})
			index++
		}

		// Synthetic chunks: nested structured data flattened into prose
		// so it stays independently retrievable.
		for _, flat := range flattenNested(metadata) {
			label := flat.field
			chunks = append(chunks, &model.Chunk{
				ChunkIndex:    index,
				Content:       flat.content,
				ContentLength: len(flat.content),
				Kind:          model.ChunkKindSynthetic,
				SearchWeight:  model.WeightForField("body"),
				SectionLabel:  &label,
			})
			index++
		}

		return chunks, nil
	}
}

// DefaultChunker returns a LayeredChunker with the default window sizes.
func DefaultChunker() ChunkFunc {
	return LayeredChunker(DefaultParentSize, DefaultChildSize, DefaultChildOverlap)
}

type window struct {
	start   int
	content string
}

// linkParent resolves a child's parent chunk index from its start
// position. Blank windows never become parents, so the containing
// window may be missing from the slice, the nearest surviving window
// before the child is linked instead.
func linkParent(parents []window, parentIndexAt []int, start int) *int {
	if len(parents) == 0 {
		return nil
	}

	pos := sort.Search(len(parents), func(i int) bool { return parents[i].start > start }) - 1
	if pos < 0 {
		pos = 0
	}
	pi := parentIndexAt[pos]
	return &pi
}

// splitWindows splits text into fixed-size rune windows. With overlap > 0
// adjacent windows share that many runes.
func splitWindows(text string, size, overlap int) []window {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var windows []window
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			windows = append(windows, window{start: start, content: content})
		}
		if end == len(runes) {
			break
		}
	}

	return windows
}

// metadataFieldText renders one metadata field as chunk text.
func metadataFieldText(metadata model.Metadata, field string) string {
	if metadata == nil {
		return ""
	}

	values := metadata.Strings(field)
	if len(values) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(values, ", "))
}

type flattened struct {
	field   string
	content string
}

// flattenNested materializes arrays of objects in the metadata (e.g. a
// weekly schedule) into one prose chunk per array field.
func flattenNested(metadata model.Metadata) []flattened {
	if metadata == nil {
		return nil
	}

	fields := make([]string, 0, len(metadata))
	for field := range metadata {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var result []flattened
	for _, field := range fields {
		list, ok := metadata[field].([]interface{})
		if !ok {
			continue
		}

		var lines []string
		for _, item := range list {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			lines = append(lines, flattenObject(field, obj))
		}
		if len(lines) > 0 {
			result = append(result, flattened{
				field:   field,
				content: strings.Join(lines, "\n"),
			})
		}
	}

	return result
}

// flattenObject renders one nested object as a single prose line with
// deterministic key order.
func flattenObject(field string, obj map[string]interface{}) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, obj[k]))
	}

	return fmt.Sprintf("%s - %s", field, strings.Join(parts, ", "))
}
