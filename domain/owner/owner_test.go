package owner

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteIncrementsResource(t *testing.T) {
	o := New(PolicyDefault)
	x := 0
	require.NoError(t, o.RegisterResource("buf", &x))
	require.NoError(t, o.RegisterFunction("inc", func(res any, _ any) {
		*res.(*int) += 1
	}))

	require.NoError(t, o.Execute("inc", "buf", nil))
	assert.Equal(t, 1, x)
}

func TestExecuteUnknownFunction(t *testing.T) {
	o := New(PolicyDefault)
	x := 0
	require.NoError(t, o.RegisterResource("buf", &x))
	assert.ErrorIs(t, o.Execute("missing", "buf", nil), ErrFunctionNotFound)
	assert.Zero(t, x)
}

func TestExecuteMissingResource(t *testing.T) {
	var got any = "unset"
	fn := func(res any, _ any) { got = res }

	o := New(PolicyDefault)
	require.NoError(t, o.RegisterFunction("peek", fn))
	require.NoError(t, o.Execute("peek", "nope", nil))
	assert.Nil(t, got)

	got = "unset"
	require.NoError(t, o.Execute("peek", "", nil))
	assert.Nil(t, got)

	strict := New(PolicyStrict)
	require.NoError(t, strict.RegisterFunction("peek", fn))
	got = "unset"
	assert.ErrorIs(t, strict.Execute("peek", "nope", nil), ErrResourceNotFound)
	assert.Equal(t, "unset", got)
}

func TestRegisterRejectsInvalid(t *testing.T) {
	o := New(PolicyDefault)
	assert.ErrorIs(t, o.RegisterFunction("", func(any, any) {}), ErrInvalidArgument)
	assert.ErrorIs(t, o.RegisterFunction("f", nil), ErrInvalidArgument)
	assert.ErrorIs(t, o.RegisterResource("", 1), ErrInvalidArgument)
	assert.ErrorIs(t, o.RegisterResource("r", nil), ErrInvalidArgument)

	var nilOwner *Owner
	assert.ErrorIs(t, nilOwner.RegisterFunction("f", func(any, any) {}), ErrInvalidArgument)
	assert.ErrorIs(t, nilOwner.Execute("f", "", nil), ErrInvalidArgument)
}

func TestRegisterOverwrites(t *testing.T) {
	o := New(PolicyDefault)
	var calls []string
	require.NoError(t, o.RegisterFunction("f", func(any, any) { calls = append(calls, "first") }))
	require.NoError(t, o.RegisterFunction("f", func(any, any) { calls = append(calls, "second") }))
	require.NoError(t, o.RegisterResource("r", 1))
	require.NoError(t, o.RegisterResource("r", 2))

	require.NoError(t, o.Execute("f", "r", nil))
	assert.Equal(t, []string{"second"}, calls)
	v, ok := o.Resource("r")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	res, fns := o.Len()
	assert.Equal(t, 1, res)
	assert.Equal(t, 1, fns)
}

func TestBindTyped(t *testing.T) {
	type counter struct{ n int }
	o := New(PolicyDefault)
	c := &counter{}
	require.NoError(t, o.RegisterResource("c", c))
	require.NoError(t, o.RegisterFunction("add", Bind(func(c *counter, by int) {
		if c != nil {
			c.n += by
		}
	})))

	require.NoError(t, o.Execute("add", "c", 5))
	require.NoError(t, o.Execute("add", "missing", 5))
	assert.Equal(t, 5, c.n)
}

func TestUnregister(t *testing.T) {
	o := New(PolicyDefault)
	destroyed := false
	require.NoError(t, o.RegisterResource("r", "value", WithDestructor(func(any) { destroyed = true })))
	require.NoError(t, o.RegisterFunction("f", func(any, any) {}))

	v, err := o.UnregisterResource("r")
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	_, err = o.UnregisterResource("r")
	assert.ErrorIs(t, err, ErrResourceNotFound)

	require.NoError(t, o.UnregisterFunction("f"))
	assert.ErrorIs(t, o.UnregisterFunction("f"), ErrFunctionNotFound)

	require.NoError(t, o.Destroy())
	assert.False(t, destroyed)
}

func TestDestroyRunsOnlyAttachedDestructors(t *testing.T) {
	o := New(PolicyDefault)
	var freed []any
	require.NoError(t, o.RegisterResource("owned", "a", WithDestructor(func(v any) { freed = append(freed, v) })))
	require.NoError(t, o.RegisterResource("borrowed", "b"))

	require.NoError(t, o.Destroy())
	assert.Equal(t, []any{"a"}, freed)
	assert.True(t, o.Destroyed())

	assert.ErrorIs(t, o.Destroy(), ErrDestroyed)
	assert.ErrorIs(t, o.RegisterResource("x", 1), ErrDestroyed)
	assert.ErrorIs(t, o.RegisterFunction("x", func(any, any) {}), ErrDestroyed)
	assert.ErrorIs(t, o.Execute("x", "", nil), ErrDestroyed)
}

func TestExecutionsRunConcurrently(t *testing.T) {
	o := New(PolicyDefault)
	var inside, peak atomic.Int32
	gate := make(chan struct{})
	require.NoError(t, o.RegisterFunction("wait", func(any, any) {
		n := inside.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		inside.Add(-1)
	}))

	var wg conc.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Go(func() { _ = o.Execute("wait", "", nil) })
	}
	require.Eventually(t, func() bool { return inside.Load() == 4 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
	assert.EqualValues(t, 4, peak.Load())
}

func TestRegisterWaitsForExecution(t *testing.T) {
	o := New(PolicyDefault)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, o.RegisterFunction("hold", func(any, any) {
		close(started)
		<-release
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.Execute("hold", "", nil)
	}()
	<-started

	registered := make(chan struct{})
	go func() {
		_ = o.RegisterResource("late", 1)
		close(registered)
	}()

	select {
	case <-registered:
		t.Fatal("registration completed while an execution was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	wg.Wait()
	<-registered
	_, ok := o.Resource("late")
	assert.True(t, ok)
}
