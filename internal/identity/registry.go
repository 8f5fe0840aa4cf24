// Package identity is the participant registry the market consults before
// admitting a knock and updates as knocks resolve.
//
// The market only needs HasValidProfile and the three counter mutators; the
// remaining operations (Register, Ban, Unban, Profile) are the administrative
// surface used by the CLI and HTTP API.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyRegistered is returned by Register for an existing profile.
	ErrAlreadyRegistered = errors.New("participant already registered")

	// ErrUnknownParticipant is returned when no profile exists.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrReservedParticipant is returned by Register for ids in the
	// market's reserved account namespace.
	ErrReservedParticipant = errors.New("participant id is reserved")
)

// Profile is a participant's identity record and long-run counters.
type Profile struct {
	Participant  string    `json:"participant"`
	Registered   bool      `json:"registered"`
	Banned       bool      `json:"banned"`
	RegisteredAt time.Time `json:"registered_at"`
	KnocksSent   int64     `json:"knocks_sent"`
	Accepted     int64     `json:"knocks_accepted"`
	Rejected     int64     `json:"knocks_rejected"`
}

// Valid reports whether the profile may send knocks.
func (p Profile) Valid() bool {
	return p.Registered && !p.Banned
}

// Registry is what the market engine consumes.
//
// Counter mutators are fire-and-forget from the market's perspective: the
// engine calls them after its own transaction committed and only logs failures.
type Registry interface {
	HasValidProfile(ctx context.Context, participant string) (bool, error)
	IncrementSent(ctx context.Context, participant string) error
	IncrementAccepted(ctx context.Context, participant string) error
	IncrementRejected(ctx context.Context, participant string) error
}
