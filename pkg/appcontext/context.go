// Package appcontext is the application context handed to test code: a
// dependency injection container holding the components of an application.
//
// It is a thin layer over go.uber.org/dig. Components are registered with
// constructors (Provide) or as ready values (Supply) and looked up by type
// (Component, Get). A context always contains itself, so code that receives
// a component graph can reach the context that built it.
package appcontext

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/dig"

	"github.com/bstoi/apptest/internal/errmark"
)

// ErrNoComponent is returned when no component of the requested type is
// registered.
var ErrNoComponent = errors.New("no such component")

// Context is an application context.
type Context struct {
	name string

	mu        sync.Mutex
	container *dig.Container
	types     []reflect.Type
}

// Option configures a Context.
type Option func(*Context)

// WithName sets the name reported by String.
func WithName(name string) Option {
	return func(c *Context) {
		c.name = name
	}
}

// New creates an application context containing only itself.
func New(opts ...Option) *Context {
	c := &Context{
		name:      "application",
		container: dig.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Supply(c); err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "registering application context"))
	}
	return c
}

// Name returns the context name.
func (c *Context) Name() string {
	return c.name
}

// Provide registers constructors. A constructor is a function whose results
// are components and, optionally, a trailing error; its parameters are
// components it depends on. Constructors run lazily, at most once each.
func (c *Context) Provide(constructors ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ctor := range constructors {
		if err := c.container.Provide(ctor); err != nil {
			return errors.Wrapf(err, "providing %T", ctor)
		}
		c.recordResults(reflect.TypeOf(ctor))
	}
	return nil
}

// Supply registers ready-made values. Each value is registered under its
// dynamic type.
func (c *Context) Supply(values ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, v := range values {
		if v == nil {
			return errors.New("cannot supply a nil component")
		}
		if _, ok := v.(error); ok {
			return errors.Newf("cannot supply an error value (%T)", v)
		}
		value := reflect.ValueOf(v)
		ctorType := reflect.FuncOf(nil, []reflect.Type{value.Type()}, false)
		ctor := reflect.MakeFunc(ctorType, func([]reflect.Value) []reflect.Value {
			return []reflect.Value{value}
		})
		if err := c.container.Provide(ctor.Interface()); err != nil {
			return errors.Wrapf(err, "supplying %T", v)
		}
		c.types = append(c.types, value.Type())
	}
	return nil
}

// Decorate registers decorators. A decorator receives a component and
// returns its replacement; it must be registered before the component is
// first looked up. Tests use it to swap collaborators for fakes.
func (c *Context) Decorate(decorators ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range decorators {
		if err := c.container.Decorate(d); err != nil {
			return errors.Wrapf(err, "decorating with %T", d)
		}
	}
	return nil
}

// Invoke calls fn with its parameters resolved from the context. If fn
// returns an error as its last result, Invoke returns it. fn must not call
// back into the context; declare what it needs as parameters instead.
func (c *Context) Invoke(fn any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.container.Invoke(fn)
}

// Component returns the component of type t.
func (c *Context) Component(t reflect.Type) (any, error) {
	if t == nil {
		return nil, errors.New("component type is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out any
	fnType := reflect.FuncOf([]reflect.Type{t}, nil, false)
	fn := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		out = args[0].Interface()
		return nil
	})
	if err := c.container.Invoke(fn.Interface()); err != nil {
		if !c.hasTypeLocked(t) {
			return nil, errmark.Mark(errors.Wrapf(err, "component %s", t), ErrNoComponent)
		}
		return nil, errors.Wrapf(err, "building component %s", t)
	}
	return out, nil
}

// Has reports whether a component of type t is registered.
func (c *Context) Has(t reflect.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasTypeLocked(t)
}

// String describes the context and its registered component types.
func (c *Context) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("%s%v", c.name, c.types)
}

func (c *Context) hasTypeLocked(t reflect.Type) bool {
	for _, have := range c.types {
		if have == t {
			return true
		}
	}
	return false
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func (c *Context) recordResults(ctorType reflect.Type) {
	if ctorType == nil || ctorType.Kind() != reflect.Func {
		return
	}
	for i := 0; i < ctorType.NumOut(); i++ {
		out := ctorType.Out(i)
		if out == errorType {
			continue
		}
		c.types = append(c.types, out)
	}
}

// Get returns the component of type T.
func Get[T any](c *Context) (T, error) {
	var zero T
	v, err := c.Component(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	return as[T](v)
}

func as[T any](v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, errors.Newf("component resolved to %T, not %s", v, reflect.TypeOf((*T)(nil)).Elem())
	}
	return t, nil
}

// MustGet is like Get but panics when the component cannot be resolved.
func MustGet[T any](c *Context) T {
	v, err := Get[T](c)
	if err != nil {
		panic(err)
	}
	return v
}
