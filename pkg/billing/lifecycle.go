package billing

import "slices"

// transitions lists the expected status changes. Anything else is still
// applied, since handlers write snapshots, but gets logged.
var transitions = map[Status][]Status{
	StatusNone:     {StatusTrialing, StatusActive},
	StatusTrialing: {StatusActive, StatusPastDue, StatusPaused},
	StatusActive:   {StatusPastDue, StatusPaused},
	StatusPastDue:  {StatusActive, StatusPaused},
	StatusPaused:   {StatusActive, StatusPastDue},
}

// ExpectedTransition reports whether moving from one status to another is part
// of the normal subscription lifecycle. Re-applying the same status is always
// expected, and so is any move into canceled or expired.
func ExpectedTransition(from, to Status) bool {
	if from == to || to == StatusCanceled || to == StatusExpired {
		return true
	}
	if from == "" {
		from = StatusNone
	}
	return slices.Contains(transitions[from], to)
}
