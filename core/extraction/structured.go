package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/llms"

	"github.com/soverin/bindery/model"
)

const extractionPrompt = `Extract structured metadata from the following document text.
Respond with a single JSON object containing these fields where derivable:
"title", "summary", "category", "tags" (array), "entities" (array),
"dates" (array of ISO dates), "year" (int), "month" (int),
"confidence" (0.0-1.0).
Respond with JSON only, no prose.

Document:
%s`

const correctionPrompt = `Your previous reply could not be parsed as JSON.
Parse error: %s

Previous reply:
%s

Return the same data as a single syntactically valid JSON object. JSON only.`

// LLMExtractor derives typed metadata from text through a language
// model. Malformed replies are first repaired locally, then corrected
// through a bounded loop that resends the failing payload together with
// the parse error. The loop aborts early when the provider repeats the
// identical mistake.
type LLMExtractor struct {
	model           llms.Model
	correctionLimit int
	callTimeout     time.Duration
	logger          *slog.Logger
}

// NewLLMExtractor creates a structured extractor over a langchaingo model.
func NewLLMExtractor(llm llms.Model, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{
		model:           llm,
		correctionLimit: 2,
		callTimeout:     60 * time.Second,
		logger:          logger,
	}
}

// ExtractStructured runs the extraction plus correction loop. It never
// returns a parse failure: exhausted corrections produce a degraded
// outcome carrying the raw payload and a needs_review flag. Only an
// unreachable provider yields an Err outcome.
func (e *LLMExtractor) ExtractStructured(ctx context.Context, text string) model.ExtractionOutcome {
	payload, err := e.call(ctx, fmt.Sprintf(extractionPrompt, text))
	if err != nil {
		return model.Errored("provider", err.Error())
	}

	metadata, parseErr := ParseMetadata(payload)
	if parseErr == nil {
		return okOutcome(metadata)
	}

	lastErr := parseErr
	for round := 0; round < e.correctionLimit; round++ {
		e.logger.Warn("Structured output malformed, requesting correction",
			slog.Int("round", round+1),
			slog.String("parse_error", lastErr.Error()),
		)

		corrected, err := e.call(ctx, fmt.Sprintf(correctionPrompt, lastErr.Error(), payload))
		if err != nil {
			return model.Errored("provider", err.Error())
		}
		payload = corrected

		metadata, parseErr = ParseMetadata(payload)
		if parseErr == nil {
			return okOutcome(metadata)
		}

		// The provider repeating the identical mistake will not improve
		// with more rounds.
		if parseErr.Equal(lastErr) {
			break
		}
		lastErr = parseErr
	}

	e.logger.Warn("Structured extraction degraded", slog.String("parse_error", parseErr.Error()))

	return model.Degraded(payload)
}

// call invokes the provider with bounded retries for transient failures.
func (e *LLMExtractor) call(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	var reply string
	operation := func() error {
		var err error
		reply, err = llms.GenerateFromSinglePrompt(callCtx, e.model, prompt)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), callCtx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}

	return reply, nil
}

func okOutcome(metadata model.Metadata) model.ExtractionOutcome {
	confidence := 0.5
	if v, ok := metadata["confidence"].(float64); ok {
		confidence = v
	}
	return model.Ok(metadata, confidence)
}
