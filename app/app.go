// Package app defines the contract between the daemon and the programs it runs in-process.
package app

import (
	"context"
	"io"
	"path/filepath"
	"sort"

	"github.com/kojan/daiyousei/envelope"
)

// Invocation carries everything an application receives for one run.
// The streams are only valid until Run returns.
type Invocation struct {
	// Name is argv[0] as sent by the caller.
	Name string
	Args []string
	Env  envelope.Env
	Cwd  string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Resolve returns path joined to the invocation's working directory, unless it is already absolute.
func (inv *Invocation) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(inv.Cwd, path)
}

// Application is a program that can be run by the daemon.
//
// Run executes synchronously and returns the exit code. A non-nil error means the
// application failed unexpectedly (as opposed to exiting non-zero on its own); the
// daemon reports it on stderr and exits with a failure code.
type Application interface {
	Run(ctx context.Context, inv *Invocation) (int, error)
}

// Func adapts a function to the Application interface.
type Func func(ctx context.Context, inv *Invocation) (int, error)

func (f Func) Run(ctx context.Context, inv *Invocation) (int, error) { return f(ctx, inv) }

// Factory creates a fresh Application for one run.
type Factory func() Application

// Registry maps program names to applications. It is immutable once built and safe
// for concurrent use.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds a Registry from name to factory. The map is copied.
func NewRegistry(factories map[string]Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for name, f := range factories {
		r.factories[name] = f
	}
	return r
}

// Lookup returns a new instance of the application registered under the base name of program.
func (r *Registry) Lookup(program string) (Application, bool) {
	f, ok := r.factories[filepath.Base(program)]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names returns the registered program names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
