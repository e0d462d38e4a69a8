package script

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Ownership of the global execution lock travels with a context. A context
// returned by Ensure carries a claim: the Lua thread used for calls made
// under that acquisition and whether the lock is currently held for it.
// Native functions called from Lua find the caller's context through
// L.Context(), which lets them release the lock around blocking work.

type claimKey struct{ in *Interpreter }

type claim struct {
	L    *lua.LState
	held bool
}

func (in *Interpreter) claimOf(ctx context.Context) *claim {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(claimKey{in}).(*claim)
	return c
}

// Held reports whether ctx holds the global execution lock.
func (in *Interpreter) Held(ctx context.Context) bool {
	c := in.claimOf(ctx)
	return c != nil && c.held
}

// Thread returns the Lua thread bound to ctx's acquisition, or nil when ctx
// does not hold the lock.
func (in *Interpreter) Thread(ctx context.Context) *lua.LState {
	if c := in.claimOf(ctx); c != nil && c.held {
		return c.L
	}
	return nil
}

// LockState is the lock state recorded by Ensure.
type LockState int

const (
	Unlocked LockState = iota
	Locked
)

func (s LockState) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

// GILState restores the global execution lock to the state it was in before
// the matching Ensure.
type GILState struct {
	in    *Interpreter
	prior LockState
	c     *claim
}

// Prior reports whether the lock was already held when Ensure was called.
func (g *GILState) Prior() LockState { return g.prior }

// Release returns the lock to its prior state. Calling it more than once is
// a no-op.
func (g *GILState) Release() {
	if g.c == nil {
		return
	}
	c := g.c
	g.c = nil
	c.held = false
	g.in.releaseThread(c.L)
	g.in.mu.Unlock()
	gilHeld.Dec()
}

// Ensure acquires the global execution lock for ctx, blocking until it is
// free. If ctx already holds it, Ensure returns immediately with prior state
// Locked and a Release that does nothing. The returned context must be used
// for all interpreter calls until Release.
func (in *Interpreter) Ensure(ctx context.Context) (context.Context, *GILState) {
	if in.Held(ctx) {
		return ctx, &GILState{in: in, prior: Locked}
	}

	start := time.Now()
	in.mu.Lock()
	gilWaitSeconds.Observe(time.Since(start).Seconds())
	gilHeld.Inc()
	in.dropReleased()

	c := &claim{L: in.acquireThread(), held: true}
	ctx = context.WithValue(ctx, claimKey{in}, c)
	// Calls are not cancellable once started.
	c.L.SetContext(context.WithoutCancel(ctx))
	return ctx, &GILState{in: in, prior: Unlocked, c: c}
}

// ThreadState is a saved acquisition returned by SaveThread.
type ThreadState struct {
	in *Interpreter
	c  *claim
}

// Restore reacquires the lock for the saved acquisition. It blocks until
// the lock is free. Calling it more than once, or on a ThreadState from a
// context that did not hold the lock, is a no-op.
func (ts *ThreadState) Restore() {
	if ts.c == nil {
		return
	}
	c := ts.c
	ts.c = nil

	start := time.Now()
	ts.in.mu.Lock()
	gilWaitSeconds.Observe(time.Since(start).Seconds())
	gilHeld.Inc()
	c.held = true
}

// SaveThread releases the lock held by ctx so other goroutines can run Lua
// code while the caller does work that does not touch the interpreter. The
// caller must not use ctx's Lua thread until Restore. If ctx does not hold
// the lock, SaveThread does nothing.
func (in *Interpreter) SaveThread(ctx context.Context) (context.Context, *ThreadState) {
	c := in.claimOf(ctx)
	if c == nil || !c.held {
		return ctx, &ThreadState{}
	}
	c.held = false
	gilHeld.Dec()
	in.mu.Unlock()
	return ctx, &ThreadState{in: in, c: c}
}

// Do runs fn with the global execution lock freshly acquired. Any lock held
// by ctx is released first and restored after fn returns, on every exit
// path including panics. fn receives the Lua thread to call into and a
// context that holds the lock.
func (in *Interpreter) Do(ctx context.Context, fn func(ctx context.Context, L *lua.LState) error) error {
	ctx, ts := in.SaveThread(ctx)
	defer ts.Restore()

	ctx, gil := in.Ensure(ctx)
	defer gil.Release()

	return fn(ctx, in.Thread(ctx))
}
