package hashring

import "errors"

var (
	// ErrInvalidArgument is returned when an empty node id or key is passed in.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNodeNotFound is returned when removing a node that is not registered.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEmptyRing is returned by Lookup when no node is registered.
	ErrEmptyRing = errors.New("empty ring")
	// ErrNodeExists is returned when adding a node that is already registered.
	ErrNodeExists = errors.New("node already exists")
	// ErrPositionCollision is returned under CollisionReject when a virtual node
	// lands on a position owned by another virtual node.
	ErrPositionCollision = errors.New("position collision")
)
