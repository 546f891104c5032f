package owner

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	ErrInvalidArgument  = errors.New("owner: invalid argument")
	ErrFunctionNotFound = errors.New("owner: function not found")
	ErrResourceNotFound = errors.New("owner: resource not found")
	ErrDestroyed        = errors.New("owner: destroyed")
)

// Policy flags.
type Policy uint32

const (
	// PolicyDefault passes a nil resource when a named resource is missing.
	PolicyDefault Policy = 0
	// PolicyStrict refuses to execute against a missing named resource.
	PolicyStrict Policy = 1
)

func (p Policy) Strict() bool { return p&PolicyStrict != 0 }

func (p Policy) String() string {
	if p.Strict() {
		return "strict"
	}
	return "default"
}

// Func is a capability. resource is the registered resource named in
// Execute, or nil.
type Func func(resource any, args any)

// Bind adapts a typed function into a Func. A nil or mistyped resource
// or argument arrives as the zero value of its type.
func Bind[R, A any](fn func(R, A)) Func {
	return func(resource any, args any) {
		r, _ := resource.(R)
		a, _ := args.(A)
		fn(r, a)
	}
}

type resourceEntry struct {
	name    string
	value   any
	destroy func(any)
}

type funcEntry struct {
	name string
	fn   Func
}

// ResourceOption configures a registered resource.
type ResourceOption func(*resourceEntry)

// WithDestructor attaches a destructor that Destroy runs on the resource.
// Replacing or unregistering the resource detaches it without running it.
func WithDestructor(fn func(any)) ResourceOption {
	return func(e *resourceEntry) { e.destroy = fn }
}

// Owner is a capability holder. Tables are keyed by the xxhash of the
// name; a colliding name overwrites like a re-registration would.
type Owner struct {
	id        uuid.UUID
	policy    Policy
	created   time.Time
	mu        sync.RWMutex
	resources map[uint64]resourceEntry
	functions map[uint64]funcEntry
	destroyed bool
}

// New creates an empty owner.
func New(policy Policy) *Owner {
	return &Owner{
		id:        uuid.New(),
		policy:    policy,
		created:   time.Now(),
		resources: make(map[uint64]resourceEntry),
		functions: make(map[uint64]funcEntry),
	}
}

func key(name string) uint64 { return xxhash.Sum64String(name) }

func (o *Owner) ID() uuid.UUID      { return o.id }
func (o *Owner) Policy() Policy     { return o.policy }
func (o *Owner) Created() time.Time { return o.created }

// RegisterFunction binds name to fn, replacing any previous binding.
func (o *Owner) RegisterFunction(name string, fn Func) error {
	if o == nil || name == "" || fn == nil {
		return errors.Wrap(ErrInvalidArgument, "register function")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return ErrDestroyed
	}
	o.functions[key(name)] = funcEntry{name: name, fn: fn}
	return nil
}

// RegisterResource binds name to res, replacing any previous binding.
func (o *Owner) RegisterResource(name string, res any, opts ...ResourceOption) error {
	if o == nil || name == "" || res == nil {
		return errors.Wrap(ErrInvalidArgument, "register resource")
	}
	e := resourceEntry{name: name, value: res}
	for _, opt := range opts {
		opt(&e)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return ErrDestroyed
	}
	o.resources[key(name)] = e
	return nil
}

// UnregisterFunction removes a capability.
func (o *Owner) UnregisterFunction(name string) error {
	if o == nil || name == "" {
		return errors.Wrap(ErrInvalidArgument, "unregister function")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return ErrDestroyed
	}
	k := key(name)
	if e, ok := o.functions[k]; !ok || e.name != name {
		return errors.Wrapf(ErrFunctionNotFound, "%q", name)
	}
	delete(o.functions, k)
	return nil
}

// UnregisterResource removes a resource and hands it back; its
// destructor, if any, does not run.
func (o *Owner) UnregisterResource(name string) (any, error) {
	if o == nil || name == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "unregister resource")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return nil, ErrDestroyed
	}
	k := key(name)
	e, ok := o.resources[k]
	if !ok || e.name != name {
		return nil, errors.Wrapf(ErrResourceNotFound, "%q", name)
	}
	delete(o.resources, k)
	return e.value, nil
}

// Resource looks up a registered resource.
func (o *Owner) Resource(name string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lookupResource(name)
}

func (o *Owner) lookupResource(name string) (any, bool) {
	e, ok := o.resources[key(name)]
	if !ok || e.name != name {
		return nil, false
	}
	return e.value, true
}

// Execute runs the capability funcName against resourceName (may be
// empty) with args. The capability runs under the read lock and must
// not register on, or Lock, the same owner.
func (o *Owner) Execute(funcName, resourceName string, args any) error {
	if o == nil || funcName == "" {
		return errors.Wrap(ErrInvalidArgument, "execute")
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.destroyed {
		return ErrDestroyed
	}

	f, ok := o.functions[key(funcName)]
	if !ok || f.name != funcName {
		return errors.Wrapf(ErrFunctionNotFound, "%q", funcName)
	}

	var ctx any
	if resourceName != "" {
		res, found := o.lookupResource(resourceName)
		if !found && o.policy.Strict() {
			return errors.Wrapf(ErrResourceNotFound, "%q", resourceName)
		}
		ctx = res
	}
	f.fn(ctx, args)
	return nil
}

// Len reports the table sizes.
func (o *Owner) Len() (resources, functions int) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.resources), len(o.functions)
}

// Lock takes the owner's exclusive lock. It is the hook the context
// bridge uses to fence the authoritative owner while a callback runs.
func (o *Owner) Lock() { o.mu.Lock() }

func (o *Owner) Unlock() { o.mu.Unlock() }

// Destroy tears the owner down. Destructors attached WithDestructor run
// after the lock is released; other resources are left untouched. Later
// calls on the owner return ErrDestroyed.
func (o *Owner) Destroy() error {
	if o == nil {
		return errors.Wrap(ErrInvalidArgument, "destroy")
	}
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return ErrDestroyed
	}
	o.destroyed = true
	var owned []resourceEntry
	for _, e := range o.resources {
		if e.destroy != nil {
			owned = append(owned, e)
		}
	}
	o.resources = nil
	o.functions = nil
	o.mu.Unlock()

	for _, e := range owned {
		e.destroy(e.value)
	}
	return nil
}

// Destroyed reports whether Destroy has run.
func (o *Owner) Destroyed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.destroyed
}
