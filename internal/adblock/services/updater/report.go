package updater

import "time"

// OutcomeFailed marks a source that could not be acquired or loaded.
const OutcomeFailed = "failed"

// SourceResult is the outcome for one source in a batch.
type SourceResult struct {
	SourceID string
	URL      string
	Outcome  string
	Err      error
}

// Report summarizes one load or update batch.
type Report struct {
	ID         string
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []SourceResult
}

// Failed counts the sources that did not succeed.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Duration is how long the batch ran.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
