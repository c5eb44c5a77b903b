package sync

// EntryError records why one queue entry failed during a pass.
type EntryError struct {
	ID      string `json:"id"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

// Result summarizes one sync pass. A skipped pass (offline, already in
// flight, lease held elsewhere) is the zero Result.
type Result struct {
	SuccessCount int          `json:"success_count"`
	FailedCount  int          `json:"failed_count"`
	Errors       []EntryError `json:"errors,omitempty"`
}

// Attempted reports whether the pass touched any entries.
func (r Result) Attempted() bool {
	return r.SuccessCount > 0 || r.FailedCount > 0
}

func (r *Result) recordFailure(id string, err error) {
	r.FailedCount++
	r.Errors = append(r.Errors, EntryError{ID: id, Message: err.Error(), Err: err})
}
