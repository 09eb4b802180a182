package reconcile

import "fmt"

// Source names one input of the status join.
type Source string

const (
	SourceUnprocessed Source = "unprocessed"
	SourceJobs        Source = "jobs"
	SourceProcessed   Source = "processed"
	SourceClientIndex Source = "client-index"
)

// ListingError records a source that could not be listed. It is reported in
// Report.Degraded and never returned to callers of GetStatus.
type ListingError struct {
	Source Source
	Err    error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("%s listing: %v", e.Source, e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }
