package types

import "errors"

var (
	// Coordination service conditions
	ErrNoNode           = errors.New("node does not exist")
	ErrNodeExists       = errors.New("node already exists")
	ErrNotEmpty         = errors.New("node has children")
	ErrBadVersion       = errors.New("node version mismatch")
	ErrNoChildrenForEph = errors.New("ephemeral nodes may not have children")
	ErrSessionExpired   = errors.New("session has expired")
	ErrConnectionClosed = errors.New("connection closed")

	// Lock protocol errors
	ErrContenderMissing = errors.New("own contender node missing from children listing")
	ErrAcquireCanceled  = errors.New("lock acquisition canceled")
	ErrAcquireInFlight  = errors.New("an acquisition is already in flight on this lock")
	ErrAlreadyHeld      = errors.New("lock is already held by this instance")

	// Configuration errors
	ErrInvalidRoot   = errors.New("invalid root path")
	ErrInvalidPrefix = errors.New("invalid contender prefix")
	ErrNoServers     = errors.New("no coordination servers configured")
)
