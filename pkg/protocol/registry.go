package protocol

import (
	"fmt"
	"sort"
	"sync"
)

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]func() (Dialer, error))
)

// RegisterEngine makes a protocol engine available under the given name,
// typically from an engine package's init function. It panics if name is
// already registered.
func RegisterEngine(name string, factory func() (Dialer, error)) {
	enginesMu.Lock()
	defer enginesMu.Unlock()

	if factory == nil {
		panic("protocol: RegisterEngine factory is nil")
	}
	if _, dup := engines[name]; dup {
		panic("protocol: RegisterEngine called twice for engine " + name)
	}
	engines[name] = factory
}

// OpenEngine builds a Dialer from the named registered engine.
func OpenEngine(name string) (Dialer, error) {
	enginesMu.RLock()
	factory, ok := engines[name]
	enginesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("protocol: unknown engine %q (forgotten import?)", name)
	}
	return factory()
}

// Engines returns the names of all registered engines, sorted.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()

	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
