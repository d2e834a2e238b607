package storage

import (
	"fmt"
	"sort"
	"sync"
)

// DriverFunc builds a dialect instance bound to the given connection
// parameters and table set.
type DriverFunc func(params map[string]any, tables TableNames) (Dialect, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFunc)
)

// Register makes a dialect available under the given type name. Dialect
// packages call this from init, mirroring database/sql driver registration.
func Register(name string, fn DriverFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if fn == nil {
		panic("storage: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("storage: Register called twice for driver " + name)
	}
	drivers[name] = fn
}

// Drivers returns the sorted names of the registered dialects.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDialect instantiates the dialect registered under kind.
func NewDialect(kind string, params map[string]any, tables TableNames) (Dialect, error) {
	driversMu.RLock()
	fn, ok := drivers[kind]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database type %q (registered: %v)", kind, Drivers())
	}
	d, err := fn(params, tables)
	if err != nil {
		return nil, fmt.Errorf("dialect %s: %w", kind, err)
	}
	return d, nil
}

// OpenStore builds a Store for one execution context: a fresh dialect
// instance wrapped in its own ConnManager. name labels the context in logs.
func OpenStore(kind string, params map[string]any, tables TableNames, name string) (*Store, error) {
	d, err := NewDialect(kind, params, tables)
	if err != nil {
		return nil, err
	}
	return NewStore(d, name), nil
}
