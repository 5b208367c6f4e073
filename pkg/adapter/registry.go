package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Factory builds an unconnected client. A nil logger discards output.
type Factory func(*slog.Logger) Client

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a client type available to NewClient under name. Adapter
// packages call it from init; names are case-insensitive and a later
// registration replaces an earlier one.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(name)] = factory
}

// Get returns the factory registered under name.
func Get(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[strings.ToLower(name)]
	return f, ok
}

// IsRegistered reports whether a client type is known.
func IsRegistered(name string) bool {
	_, ok := Get(name)
	return ok
}

// ListAdapters returns the registered client type names, sorted.
func ListAdapters() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewClient builds the client registered for cfg.Type and connects it.
// On a failed connect the client is closed before the error is returned.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (Client, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}

	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{Type: cfg.Type, Available: ListAdapters()}
	}

	client := factory(logger)
	if err := client.Connect(ctx, cfg); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect %s: %w", strings.ToLower(cfg.Type), err)
	}
	return client, nil
}

// UnknownAdapterError is returned for a target type no adapter registered.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q\nAvailable adapters: %v\nHint: Check target.type in leapclean.yaml or --target-type", e.Type, e.Available)
}
