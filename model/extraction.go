package model

// ExtractionStatus tags the outcome of a structured-extraction attempt.
type ExtractionStatus string

const (
	// ExtractionOk means typed metadata was parsed successfully.
	ExtractionOk ExtractionStatus = "ok"
	// ExtractionDegraded means parsing ultimately failed and only minimal
	// metadata is available. The document is still completed, flagged for
	// human review.
	ExtractionDegraded ExtractionStatus = "degraded"
	// ExtractionErr means the provider itself was unreachable.
	ExtractionErr ExtractionStatus = "err"
)

// ExtractionOutcome is the tagged result of structured extraction.
// Callers switch on Status instead of probing for optional keys.
type ExtractionOutcome struct {
	Status     ExtractionStatus `json:"status"`
	Metadata   Metadata         `json:"metadata,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	// Degraded fields
	NeedsReview bool   `json:"needs_review,omitempty"`
	RawPayload  string `json:"raw_payload,omitempty"`
	// Err fields
	ErrKind    string `json:"err_kind,omitempty"`
	ErrMessage string `json:"err_message,omitempty"`
}

// Ok returns a successful outcome.
func Ok(metadata Metadata, confidence float64) ExtractionOutcome {
	return ExtractionOutcome{Status: ExtractionOk, Metadata: metadata, Confidence: confidence}
}

// Degraded returns a needs-review outcome preserving the failing payload.
func Degraded(rawPayload string) ExtractionOutcome {
	return ExtractionOutcome{
		Status:      ExtractionDegraded,
		Metadata:    Metadata{"needs_review": true},
		NeedsReview: true,
		RawPayload:  rawPayload,
	}
}

// Errored returns an infrastructure-error outcome.
func Errored(kind, message string) ExtractionOutcome {
	return ExtractionOutcome{Status: ExtractionErr, ErrKind: kind, ErrMessage: message}
}
