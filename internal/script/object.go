package script

import (
	"context"
	"fmt"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Object is a counted handle to a Lua table. While any reference is held the
// table is anchored in the interpreter registry. The handle starts with one
// reference owned by whoever created it.
type Object struct {
	in    *Interpreter
	name  string
	ref   int
	table *lua.LTable
	refs  atomic.Int32
}

// NewObject imports module, looks up class and instantiates it with
// class:new().
func (in *Interpreter) NewObject(ctx context.Context, module, class string) (*Object, error) {
	var obj *Object
	err := in.Do(ctx, func(ctx context.Context, L *lua.LState) error {
		mod, err := in.Import(L, module)
		if err != nil {
			return err
		}

		cls, ok := L.GetField(mod, class).(*lua.LTable)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrNoClass, module, class)
		}
		ctor, ok := L.GetField(cls, "new").(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%w: %s.%s has no new()", ErrNoClass, module, class)
		}

		if err := L.CallByParam(lua.P{Fn: ctor, NRet: 1, Protect: true}, cls); err != nil {
			return newError(err)
		}
		ret := L.Get(-1)
		L.Pop(1)

		tbl, ok := ret.(*lua.LTable)
		if !ok {
			return fmt.Errorf("%w: %s.%s:new() returned %s", ErrNotTable, module, class, ret.Type())
		}
		obj = in.anchor(tbl, module+"."+class)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Wrap returns a new handle to tbl. L must be the thread of a context
// holding the global execution lock.
func (in *Interpreter) Wrap(L *lua.LState, tbl *lua.LTable, name string) *Object {
	return in.anchor(tbl, name)
}

// anchor registers tbl in the object registry. mu must be held.
func (in *Interpreter) anchor(tbl *lua.LTable, name string) *Object {
	in.nextRef++
	obj := &Object{in: in, name: name, ref: in.nextRef, table: tbl}
	obj.refs.Store(1)
	in.objects.RawSetInt(obj.ref, tbl)
	objectsLive.Inc()
	return obj
}

// dropReleased removes anchors of objects whose last reference was released.
// mu must be held.
func (in *Interpreter) dropReleased() {
	in.unrefMu.Lock()
	refs := in.unrefs
	in.unrefs = nil
	in.unrefMu.Unlock()

	for _, ref := range refs {
		in.objects.RawSetInt(ref, lua.LNil)
		objectsLive.Dec()
	}
}

// Name returns "module.class" for objects built by NewObject.
func (o *Object) Name() string { return o.name }

// Table returns the underlying table. It may only be used while holding the
// global execution lock.
func (o *Object) Table() *lua.LTable { return o.table }

// Refs returns the current reference count.
func (o *Object) Refs() int { return int(o.refs.Load()) }

// Retain adds a reference.
func (o *Object) Retain() *Object {
	if o.refs.Add(1) <= 1 {
		panic("script: Retain on released object " + o.name)
	}
	return o
}

// Release drops a reference. Dropping the last one unanchors the table the
// next time the global execution lock is acquired, so Release never blocks
// and is safe to call with or without the lock.
func (o *Object) Release() {
	n := o.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic("script: Release on released object " + o.name)
	}
	o.in.unrefMu.Lock()
	o.in.unrefs = append(o.in.unrefs, o.ref)
	o.in.unrefMu.Unlock()
}

// SetAttr assigns self[name] = value.
func (o *Object) SetAttr(L *lua.LState, name string, value lua.LValue) {
	L.SetField(o.table, name, value)
}

// Attr returns self[name], honoring __index.
func (o *Object) Attr(L *lua.LState, name string) lua.LValue {
	return L.GetField(o.table, name)
}

// HasMethod reports whether self[name] is a function.
func (o *Object) HasMethod(L *lua.LState, name string) bool {
	_, ok := o.Attr(L, name).(*lua.LFunction)
	return ok
}

// CallMethod calls self:name(args...) in protected mode, discarding results.
// An error raised by the method is returned as *Error.
func (o *Object) CallMethod(L *lua.LState, name string, args ...lua.LValue) error {
	fn, ok := o.Attr(L, name).(*lua.LFunction)
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrNoMethod, o.name, name)
	}
	callArgs := make([]lua.LValue, 0, len(args)+1)
	callArgs = append(callArgs, o.table)
	callArgs = append(callArgs, args...)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, callArgs...); err != nil {
		return newError(err)
	}
	return nil
}
