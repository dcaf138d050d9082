package market

import (
	"time"
)

// Session is a major trading session, bucketed by UTC wall-clock hour:
//
//	asia     00:00 <= hour < 08:00
//	london   08:00 <= hour < 16:00
//	new_york remaining hours
type Session string

const (
	SessionAsia    Session = "asia"
	SessionLondon  Session = "london"
	SessionNewYork Session = "new_york"
)

// DetermineSession classifies a timestamp into its trading session.
// The timestamp is interpreted as UTC wall-clock time.
func DetermineSession(ts time.Time) Session {
	switch hour := ts.UTC().Hour(); {
	case hour < 8:
		return SessionAsia
	case hour < 16:
		return SessionLondon
	default:
		return SessionNewYork
	}
}

// ParseSession validates a session label. An empty string is accepted as
// "no session filter" and returns ok with an empty Session.
func ParseSession(raw string) (Session, bool) {
	switch Session(raw) {
	case "":
		return "", true
	case SessionAsia, SessionLondon, SessionNewYork:
		return Session(raw), true
	default:
		return "", false
	}
}
