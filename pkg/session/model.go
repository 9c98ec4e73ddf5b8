package session

import (
	"fmt"
	"time"
)

// State of the session manager.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handle is what an Authenticator hands out: the server-issued key and the
// user it belongs to.
type Handle struct {
	Key      string `json:"key"`
	UserName string `json:"userName"`
}

// Session is an installed Handle. It is a value: a re-login produces a new
// Session with a higher Generation instead of changing an existing one.
type Session struct {
	Key        string    // Server-issued session key
	UserName   string    // User the session was created for
	Generation uint64    // Incremented on every successful login
	CreatedAt  time.Time // When the session was installed
}

func (s Session) Handle() Handle {
	return Handle{Key: s.Key, UserName: s.UserName}
}

func (s Session) IsZero() bool {
	return s.Generation == 0 && s.Key == ""
}

func (s Session) String() string {
	return fmt.Sprintf("session(gen=%d, key=%s)", s.Generation, TruncKey(s.Key))
}

// TruncKey keeps only the last five characters of a session key so that it
// can be logged.
func TruncKey(key string) string {
	const keep = 5
	if len(key) <= keep {
		return key
	}

	return "..." + key[len(key)-keep:]
}
