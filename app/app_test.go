package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	calls := 0
	factories := map[string]Factory{
		"true": func() Application {
			calls++
			return Func(func(ctx context.Context, inv *Invocation) (int, error) { return 0, nil })
		},
		"false": func() Application {
			return Func(func(ctx context.Context, inv *Invocation) (int, error) { return 1, nil })
		},
	}
	r := NewRegistry(factories)
	delete(factories, "true")

	assert.Equal(t, []string{"false", "true"}, r.Names())

	a, ok := r.Lookup("/usr/bin/true")
	require.True(t, ok)
	code, err := a.Run(context.Background(), &Invocation{})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	_, ok = r.Lookup("true")
	require.True(t, ok)
	assert.Equal(t, 2, calls, "every lookup gets a fresh instance")

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	inv := &Invocation{Cwd: "/tmp"}
	assert.Equal(t, "/etc/passwd", inv.Resolve("/etc/passwd"))
	assert.Equal(t, "/tmp/a/b", inv.Resolve("a/b"))
	assert.Equal(t, "/a", inv.Resolve("../a"))
}
