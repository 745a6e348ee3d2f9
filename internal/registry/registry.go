// Package registry implements the Job Factory: Create(className, args,
// queue) -> Handler, by name lookup in a registry, with a typed NotFound
// error on miss, and a pluggable resolver for callers who want DI-style
// construction.
//
// Generalized from a handler.go-style Registry (map[string]HandlerFunc,
// Register/Get/Count) keyed by a single function value per job name, into
// a constructor that returns a fresh Handler value with a full handler
// capability set (setArgs/setQueue/perform/optional setUp/tearDown),
// since a job handler instance is meant to carry per-invocation state,
// not be a single shared function.
package registry

import (
	"context"

	jerrors "github.com/muaviaUsmani/jobyard/internal/errors"
)

// Handler is the capability set required of a resolved job: args and
// queue are injected before Perform runs.
type Handler interface {
	SetArgs(args map[string]interface{})
	SetQueue(queue string)
	Perform(ctx context.Context) error
}

// SetUpper is an optional capability: invoked before Perform if the
// resolved handler implements it.
type SetUpper interface {
	SetUp(ctx context.Context) error
}

// TearDowner is an optional capability: invoked after Perform (success or
// failure) if the resolved handler implements it.
type TearDowner interface {
	TearDown(ctx context.Context) error
}

// Constructor builds a fresh Handler value for one invocation.
type Constructor func() Handler

// Factory is the Job Factory capability.
type Factory interface {
	Create(className string, args map[string]interface{}, queue string) (Handler, error)
}

// MapFactory is the default Factory: a name -> Constructor registry
// using a simple map-based resolution strategy.
type MapFactory struct {
	constructors map[string]Constructor
}

// NewMapFactory returns an empty factory.
func NewMapFactory() *MapFactory {
	return &MapFactory{constructors: make(map[string]Constructor)}
}

// Register associates className with a constructor.
func (f *MapFactory) Register(className string, ctor Constructor) {
	f.constructors[className] = ctor
}

// Count returns the number of registered classes.
func (f *MapFactory) Count() int {
	return len(f.constructors)
}

// Create resolves className to a fresh Handler with args and queue
// already injected. Returns a *errors.JobResolutionError if className is
// unknown.
func (f *MapFactory) Create(className string, args map[string]interface{}, queue string) (Handler, error) {
	ctor, ok := f.constructors[className]
	if !ok {
		return nil, &jerrors.JobResolutionError{ClassName: className}
	}
	h := ctor()
	h.SetArgs(args)
	h.SetQueue(queue)
	return h, nil
}
