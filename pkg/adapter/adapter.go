// Package adapter provides the store client contract shared by every
// concrete adapter, plus the registry adapters add themselves to.
//
// Concrete adapter implementations are in pkg/adapters/ subdirectories.
package adapter

import (
	"context"

	"github.com/leapstack-labs/leapclean/pkg/core"
)

// Config is an alias for core.AdapterConfig.
type Config = core.AdapterConfig

// Client is a connectable store client.
type Client interface {
	core.StoreClient
	core.DatasetCreator
	core.TableLoader
	core.ColumnLister

	// Connect establishes a connection to the store using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the connection and releases resources.
	Close() error
}
