package domain

// Status is the closed set of task lifecycle states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// transitions lists, per state, the states it is allowed to move to.
// Terminal states have no entries.
var transitions = map[Status][]Status{
	StatusPending: {StatusQueued},
	StatusQueued:  {StatusRunning, StatusCanceled},
	StatusRunning: {StatusSucceeded, StatusQueued, StatusFailed},
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is in the transition table.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
