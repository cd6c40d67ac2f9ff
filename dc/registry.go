package dc

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Opener opens the device called name on a backend. The name format is
// backend specific: a Bluetooth address, a tty path, and so on.
type Opener func(ctx context.Context, dctx *Context, name string) (Port, error)

type backend struct {
	transport Transport
	open      Opener
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]backend)
)

// Register makes a transport backend available under name. It panics if
// open is nil or name is already taken.
func Register(name string, t Transport, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if open == nil {
		panic("dc: Register opener is nil")
	}
	if _, dup := backends[name]; dup {
		panic("dc: Register called twice for backend " + name)
	}
	backends[name] = backend{transport: t, open: open}
}

// Backends returns the sorted list of registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens device name on the named backend and returns a handle tagged
// with the backend's transport kind.
func Open(ctx context.Context, dctx *Context, backendName, name string) (*Serial, error) {
	backendsMu.RLock()
	b, ok := backends[backendName]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dc: unknown backend %q: %w", backendName, Unsupported)
	}
	port, err := b.open(ctx, dctx, name)
	if err != nil {
		return nil, err
	}
	return NewSerial(b.transport, port), nil
}
