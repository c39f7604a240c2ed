package calendar

import "strings"

// ParticipantsPrefix starts the description line listing attendees that have
// no e-mail address and therefore cannot be invited by the backend.
const ParticipantsPrefix = "Participants: "

// SplitAttendees separates e-mail attendees from plain names.
func SplitAttendees(attendees []string) (emails, names []string) {
	for _, a := range attendees {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
		case strings.Contains(a, "@"):
			emails = append(emails, a)
		default:
			names = append(names, a)
		}
	}
	return emails, names
}

// WithParticipants replaces the participants line of description with names.
func WithParticipants(description string, names []string) string {
	description = StripParticipants(description)
	if len(names) == 0 {
		return description
	}
	line := ParticipantsPrefix + strings.Join(names, ", ")
	if description == "" {
		return line
	}
	return description + "\n\n" + line
}

// ParticipantsLine returns the trailing participants line of description.
func ParticipantsLine(description string) string {
	if i := strings.LastIndex(description, ParticipantsPrefix); i >= 0 && !strings.Contains(description[i:], "\n") {
		return description[i:]
	}
	return ""
}

// StripParticipants removes the trailing participants line of description.
func StripParticipants(description string) string {
	line := ParticipantsLine(description)
	if line == "" {
		return description
	}
	return strings.TrimRight(strings.TrimSuffix(description, line), "\n")
}
