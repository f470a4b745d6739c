package dthreads

import "errors"

var (
	ErrClosed        = errors.New("dthreads: region is closed")
	ErrOutOfBounds   = errors.New("dthreads: address outside region")
	ErrTooSmall      = errors.New("dthreads: region too small for requested globals")
	ErrReadOnly      = errors.New("dthreads: write to a page mapped without copy-on-write")
	ErrTooManyBlocks = errors.New("dthreads: owned-block registry is full")
	ErrNoTwinSlot    = errors.New("dthreads: twin bitmap exhausted")
	ErrInvalidState  = errors.New("dthreads: page access_state invariant violated")
)
