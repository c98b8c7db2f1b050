package gates

import (
	"encoding/json"
	"time"
)

// Failure reasons. Only ReasonBelowThreshold is a soft failure that may be
// routed to manual review.
const (
	ReasonFileMissing      = "file_missing"
	ReasonFileTooLarge     = "file_too_large"
	ReasonFormatRejected   = "format_rejected"
	ReasonDecodeFailure    = "decode_failure"
	ReasonResolutionTooLow = "resolution_too_low"
	ReasonBelowThreshold   = "below_threshold"
)

type Details map[string]interface{}

// Outcome is either Passed or Failed
type Outcome interface {
	outcome()
}

type Passed struct {
	Score   float64
	Details Details
}

type Failed struct {
	Score     float64
	Threshold float64
	Reason    string
	Details   Details
}

func (Passed) outcome() {}
func (Failed) outcome() {}

// GateResult is the record of one executed gate
type GateResult struct {
	Gate      string
	Outcome   Outcome
	Threshold float64
	Duration  time.Duration
}

func (r GateResult) Passed() bool {
	_, ok := r.Outcome.(Passed)
	return ok
}

func (r GateResult) Score() float64 {
	switch o := r.Outcome.(type) {
	case Passed:
		return o.Score
	case Failed:
		return o.Score
	}
	return 0
}

func (r GateResult) Reason() string {
	if f, ok := r.Outcome.(Failed); ok {
		return f.Reason
	}
	return ""
}

// Details returns the gate details, with the failure reason when there is one
func (r GateResult) Details() Details {
	result := Details{}
	var src Details
	switch o := r.Outcome.(type) {
	case Passed:
		src = o.Details
	case Failed:
		src = o.Details
		result["reason"] = o.Reason
	}
	for k, v := range src {
		result[k] = v
	}
	return result
}

func (r GateResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Gate       string  `json:"gate"`
		Passed     bool    `json:"passed"`
		Score      float64 `json:"score"`
		Threshold  float64 `json:"threshold"`
		Details    Details `json:"details"`
		DurationMs int64   `json:"duration_ms"`
	}{
		Gate:       r.Gate,
		Passed:     r.Passed(),
		Score:      r.Score(),
		Threshold:  r.Threshold,
		Details:    r.Details(),
		DurationMs: r.Duration.Milliseconds(),
	})
}
