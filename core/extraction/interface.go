package extraction

import (
	"context"

	"github.com/soverin/bindery/model"
)

// TextExtractor converts a raw source item into normalized text plus raw
// metadata. Implementations wrap external services (file parsers, page
// scrapers, mailbox connectors) and are consumed at this boundary only.
type TextExtractor interface {
	ExtractText(ctx context.Context, doc *model.Document) (string, model.Metadata, error)
}

// StructuredExtractor derives typed metadata from normalized text. The
// provider may return malformed output, implementations own the repair
// and bounded correction loop and never surface a parse failure to the
// caller, only a degraded outcome.
type StructuredExtractor interface {
	ExtractStructured(ctx context.Context, text string) model.ExtractionOutcome
}

// PassthroughTextExtractor returns the document content unchanged. Used
// when the source connector already delivers normalized text. Documents
// pulled back from the store carry their text in NormalizedText.
type PassthroughTextExtractor struct{}

func (PassthroughTextExtractor) ExtractText(ctx context.Context, doc *model.Document) (string, model.Metadata, error) {
	if doc.Content != "" {
		return doc.Content, doc.Metadata, nil
	}
	return doc.NormalizedText, doc.Metadata, nil
}
