// Package bridge lets two owners take turns over one shared buffer.
//
// Every Run is serialized by the bridge mutex, whichever side asks, and
// the callback executes while the currently active owner is locked. The
// active owner is locked even when the other side made the request.
package bridge

import (
	"sync"

	"github.com/cockroachdb/errors"

	"warden/domain/owner"
)

var (
	ErrMissingOwner  = errors.New("bridge: both owners are required")
	ErrInvalidSide   = errors.New("bridge: invalid side")
	ErrUninitialized = errors.New("bridge: not initialized")
	ErrNilCallback   = errors.New("bridge: nil callback")
)

type Side uint8

const (
	First Side = iota
	Second
)

func (s Side) Valid() bool { return s == First || s == Second }

func (s Side) String() string {
	switch s {
	case First:
		return "first"
	case Second:
		return "second"
	default:
		return "invalid"
	}
}

// Callback receives the shared buffer and the caller's argument.
type Callback func(shared []byte, arg any)

type Bridge struct {
	mu          sync.Mutex
	owners      [2]*owner.Owner
	shared      []byte
	active      Side
	last        Side
	initialized bool
}

// New binds first and second around shared with initial as the active
// side.
func New(first, second *owner.Owner, shared []byte, initial Side) (*Bridge, error) {
	if first == nil || second == nil {
		return nil, ErrMissingOwner
	}
	if !initial.Valid() {
		return nil, errors.Wrapf(ErrInvalidSide, "initial side %d", initial)
	}
	return &Bridge{
		owners:      [2]*owner.Owner{first, second},
		shared:      shared,
		active:      initial,
		last:        initial,
		initialized: true,
	}, nil
}

// Run invokes cb on behalf of side. The active owner's lock is held for
// the duration of cb.
func (b *Bridge) Run(side Side, cb Callback, arg any) error {
	if b == nil {
		return ErrUninitialized
	}
	if cb == nil {
		return ErrNilCallback
	}
	if !side.Valid() {
		return errors.Wrapf(ErrInvalidSide, "side %d", side)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrUninitialized
	}
	b.last = side

	o := b.owners[b.active]
	o.Lock()
	defer o.Unlock()
	cb(b.shared, arg)
	return nil
}

// Reassign makes side the active owner. It runs no callback and does
// not take any owner lock.
func (b *Bridge) Reassign(side Side) error {
	if b == nil {
		return ErrUninitialized
	}
	if !side.Valid() {
		return errors.Wrapf(ErrInvalidSide, "side %d", side)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrUninitialized
	}
	b.active = side
	return nil
}

// Owner returns the owner bound to side, or nil.
func (b *Bridge) Owner(side Side) *owner.Owner {
	if b == nil || !side.Valid() || !b.initialized {
		return nil
	}
	return b.owners[side]
}

func (b *Bridge) Active() Side { return b.active }

// LastRequest is the side named by the most recent Run.
func (b *Bridge) LastRequest() Side { return b.last }

func (b *Bridge) Shared() []byte { return b.shared }

// Destroy unbinds both owners. The owners themselves are left alive.
func (b *Bridge) Destroy() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owners = [2]*owner.Owner{}
	b.shared = nil
	b.initialized = false
}
