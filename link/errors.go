package link

import "errors"

var (
	// ErrNotStarted is returned when the manager is used before Begin
	ErrNotStarted = errors.New("link: not started")

	// ErrAlreadyStarted is returned by a second Begin call
	ErrAlreadyStarted = errors.New("link: already started")

	// ErrQueueFull is returned when the outbound queue has no free
	// application slot. The caller may retry on a later tick.
	ErrQueueFull = errors.New("link: outbound queue full")

	// ErrPayloadTooLarge is returned when a payload exceeds MTU minus header
	ErrPayloadTooLarge = errors.New("link: payload exceeds MTU")

	// ErrAckOnBroadcast is returned when an acknowledged send is addressed
	// to the broadcast id. Nobody in particular would ack it.
	ErrAckOnBroadcast = errors.New("link: broadcast sends cannot require ack")

	// ErrSlaveOnly is returned when a slave-role operation is invoked on a master
	ErrSlaveOnly = errors.New("link: operation valid for slave role only")
)
