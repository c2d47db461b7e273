// Package builtin contains the applications shipped with the daemon.
package builtin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kojan/daiyousei/app"
)

// Registry returns a registry of all built-in applications.
func Registry() *app.Registry {
	return app.NewRegistry(map[string]app.Factory{
		"cat":    func() app.Application { return app.Func(Cat) },
		"whoami": func() app.Application { return app.Func(Whoami) },
	})
}

// Cat copies its file arguments, resolved against the working directory, to stdout.
// Without arguments it copies stdin.
func Cat(ctx context.Context, inv *app.Invocation) (int, error) {
	if len(inv.Args) == 0 {
		if _, err := io.Copy(inv.Stdout, inv.Stdin); err != nil {
			fmt.Fprintf(inv.Stderr, "cat: Error reading stdin: %s\n", err)
			return 1, nil
		}
		return 0, nil
	}
	for _, arg := range inv.Args {
		if err := ctx.Err(); err != nil {
			return 1, err
		}
		path := inv.Resolve(arg)
		if err := catFile(path, inv.Stdout); err != nil {
			fmt.Fprintf(inv.Stderr, "cat: Error reading %s: %s\n", path, err)
			return 1, nil
		}
	}
	return 0, nil
}

func catFile(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// Whoami prints the caller's user name, taken from the request environment.
func Whoami(ctx context.Context, inv *app.Invocation) (int, error) {
	user, ok := inv.Env.Lookup("USER")
	if !ok {
		fmt.Fprintln(inv.Stderr, "whoami: USER is not set")
		return 1, nil
	}
	fmt.Fprintf(inv.Stdout, "You are %s\n", user)
	return 0, nil
}
