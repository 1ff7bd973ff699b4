package domain

// OutcomeStatus is the per-participant result of an operation.
type OutcomeStatus string

const (
	// OutcomePrepared means every stage passed and the Working Copy is held open awaiting a verdict.
	OutcomePrepared      OutcomeStatus = "prepared"
	OutcomeCommitted     OutcomeStatus = "committed"
	OutcomeRolledBack    OutcomeStatus = "rolled-back"
	OutcomeFailedToApply OutcomeStatus = "failed-to-apply"
	// OutcomeInconsistent marks a participant whose final state could not be confirmed.
	OutcomeInconsistent  OutcomeStatus = "inconsistent"
)

// Failed reports whether the status counts as a failure for verdict aggregation.
func (s OutcomeStatus) Failed() bool {
	switch s {
	case OutcomeRolledBack, OutcomeFailedToApply, OutcomeInconsistent:
		return true
	}
	return false
}

// Outcome is what one participant reports for one operation.
type Outcome struct {
	Status   OutcomeStatus `json:"status"`
	Result   any           `json:"result,omitempty"`
	Failure  *Failure      `json:"failure,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.Status.Failed()
}

// Err rebuilds the typed error carried by the outcome, or nil on success.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure.Err()
}

// ParticipantResult is one entry of the per-participant status map.
type ParticipantResult struct {
	Status  OutcomeStatus `json:"status"`
	Failure *Failure      `json:"failure,omitempty"`
}

// Response is returned to the submitting client.
// Outcome carries the local payload; Participants is only set for fleet operations.
type Response struct {
	Outcome      Outcome                      `json:"outcome"`
	Verdict      Verdict                      `json:"verdict,omitempty"`
	Participants map[string]ParticipantResult `json:"participants,omitempty"`
}

// Inconsistent lists participants marked inconsistent in this response.
func (r Response) Inconsistent() []string {
	var out []string
	for name, p := range r.Participants {
		if p.Status == OutcomeInconsistent {
			out = append(out, name)
		}
	}
	return out
}
