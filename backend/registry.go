package backend

import (
	"fmt"
	"strings"
	"sync"
)

// registry is the process-wide name -> Factory table (spec §9 redesign
// flag: "keep as a process-wide map of name -> factory with an explicit
// initialization phase; never construct backends implicitly"). Provider
// packages populate it from their own init() by calling Register.
var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a provider factory to the process-wide registry. It panics on
// a duplicate name, the same way the standard library's database/sql and
// image packages treat duplicate driver/format registration as a programmer
// error at init time.
func Register(f Factory) {
	name := strings.ToLower(f.Name())
	if name == "" {
		panic("backend: factory has empty name")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("backend: factory %q already registered", name))
	}
	registry[name] = f
}

// Lookup returns the factory registered under name (case-insensitive).
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[strings.ToLower(name)]
	return f, ok
}

// Providers lists the names of all registered providers.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// ParseModelString splits a model identifier of the form "provider",
// "provider:model", or "provider/model" (spec §6.1) into provider and model
// parts. The provider side is returned lower-cased; if no separator is
// present, model is "" and the caller's Settings.DefaultModel applies.
func ParseModelString(s string) (provider, model string) {
	if idx := strings.IndexAny(s, ":/"); idx >= 0 {
		return strings.ToLower(s[:idx]), s[idx+1:]
	}
	return strings.ToLower(s), ""
}
