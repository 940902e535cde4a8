package domain

import (
	"fmt"
	"strings"
	"time"
)

type SampleStatus string

const (
	SampleStatusPending            SampleStatus = "pending"
	SampleStatusInLab              SampleStatus = "in_lab"
	SampleStatusAccepted           SampleStatus = "accepted"
	SampleStatusCorrectionRequired SampleStatus = "correction_required"
	SampleStatusSuperseded         SampleStatus = "superseded"
)

// Sample is one spectrometer draw from a melting batch. Readings are element
// symbol to weight percent; once the lab submits them the map is frozen and a
// re-test produces a new sample instead.
type Sample struct {
	ID       string
	BatchID  string
	SampleNo string
	Status   SampleStatus
	Readings map[string]float64

	DrawnAt     time.Time
	DrawnBy     string
	SubmittedAt time.Time
	SubmittedBy string
	ReviewedAt  time.Time
	ReviewedBy  string

	Verdict       string
	Deviations    []string
	RawPayloadKey string
}

func (s Sample) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return NewValidationError("id", "is required")
	}
	if strings.TrimSpace(s.BatchID) == "" {
		return NewValidationError("batch_id", "is required")
	}
	if strings.TrimSpace(s.SampleNo) == "" {
		return NewValidationError("sample_no", "is required")
	}
	return nil
}

// NextSampleNo numbers draws within a batch: S1, S2, ...
func NextSampleNo(priorSamples int) string {
	return fmt.Sprintf("S%d", priorSamples+1)
}

var sampleTransitions = map[SampleStatus][]SampleStatus{
	SampleStatusPending:            {SampleStatusInLab, SampleStatusSuperseded},
	SampleStatusInLab:              {SampleStatusAccepted, SampleStatusCorrectionRequired, SampleStatusSuperseded},
	SampleStatusAccepted:           {SampleStatusSuperseded},
	SampleStatusCorrectionRequired: {SampleStatusSuperseded},
	SampleStatusSuperseded:         {},
}

func (s *Sample) TransitionTo(next SampleStatus) error {
	for _, allowed := range sampleTransitions[s.Status] {
		if allowed == next {
			s.Status = next
			return nil
		}
	}
	return &GuardRejection{
		Aggregate:  "sample",
		ID:         s.ID,
		Transition: "set_status " + string(next),
		Current:    string(s.Status),
		Required:   "one of: " + joinSampleStatuses(sampleTransitions[s.Status]),
	}
}

// SetReadings records the lab readings exactly once. Symbols are stored
// normalized; a second submission is rejected so corrections go through a new
// sample.
func (s *Sample) SetReadings(readings map[string]float64, submittedBy string, at time.Time) error {
	if s.Status != SampleStatusPending && s.Status != SampleStatusInLab {
		return &GuardRejection{
			Aggregate:  "sample",
			ID:         s.ID,
			Transition: "submit_readings",
			Current:    string(s.Status),
			Required:   "pending or in_lab",
		}
	}
	if s.Readings != nil {
		return &GuardRejection{
			Aggregate:  "sample",
			ID:         s.ID,
			Transition: "submit_readings",
			Current:    string(s.Status),
			Required:   "no readings on record (draw a new sample for a re-test)",
		}
	}
	if len(readings) == 0 {
		return NewValidationError("readings", "at least one element reading is required")
	}
	stored := make(map[string]float64, len(readings))
	for sym, val := range readings {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			return NewValidationError("readings", "element symbol must not be empty")
		}
		if val < 0 {
			return NewValidationError("readings", "%s reading must not be negative", sym)
		}
		stored[sym] = val
	}
	s.Readings = stored
	s.SubmittedBy = submittedBy
	s.SubmittedAt = at
	return nil
}

func joinSampleStatuses(in []SampleStatus) string {
	if len(in) == 0 {
		return "none (terminal status)"
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return strings.Join(out, ", ")
}
