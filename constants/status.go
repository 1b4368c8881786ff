package constants

// JobStatus is the canonical status for rows in document_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "pending"    // created, not yet picked up
	JobStatusProcessing JobStatus = "processing" // extraction scheduled or running
	JobStatusProcessed  JobStatus = "processed"  // terminal: text extracted
	JobStatusError      JobStatus = "error"      // terminal: failure recorded
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusProcessed || s == JobStatusError
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusProcessed, JobStatusError:
		return true
	}
	return false
}

// CanTransition reports whether from -> to follows pending -> processing -> {processed | error}.
// processing -> processing is allowed so markProcessing stays idempotent, and pending -> error
// lets a job that could not be scheduled fail without ever running.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusError
	case JobStatusProcessing:
		return to == JobStatusProcessing || to == JobStatusProcessed || to == JobStatusError
	default:
		return false
	}
}
