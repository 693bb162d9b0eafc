package relay

import "errors"

var (
	// ErrIdentityConflict is returned when a reconnecting client asks for a
	// display name that is bound to a different live connection. The join is
	// refused; the old binding is never overwritten.
	ErrIdentityConflict = errors.New("display name bound to another live connection")

	// ErrRoomAlreadyHosted is returned when a host join targets a room that
	// already has a live host.
	ErrRoomAlreadyHosted = errors.New("room already has a host")

	// ErrNoHostForRoom is returned when a client join targets a room with no
	// live host.
	ErrNoHostForRoom = errors.New("room has no host")

	// ErrUnknownTarget means routing resolved to nothing. It is never
	// surfaced to the sender; delivery is best-effort.
	ErrUnknownTarget = errors.New("no such routing target")
)
