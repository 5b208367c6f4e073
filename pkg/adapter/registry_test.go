package adapter

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownAdapterError_Error(t *testing.T) {
	err := &UnknownAdapterError{
		Type:      "fake_db",
		Available: []string{"duckdb", "postgres"},
	}

	msg := err.Error()
	assert.Contains(t, msg, "fake_db", "error should mention the unknown type")
	assert.Contains(t, msg, "duckdb", "error should list available adapters")
	assert.Contains(t, msg, "leapclean.yaml", "error should mention config file")
}

func TestRegister(t *testing.T) {
	Register("test_adapter_internal", func(_ *slog.Logger) Client { return nil })

	assert.True(t, IsRegistered("test_adapter_internal"))

	factory, ok := Get("test_adapter_internal")
	assert.True(t, ok)
	assert.NotNil(t, factory)
	assert.Contains(t, ListAdapters(), "test_adapter_internal")
}

func TestNewClient_EmptyType(t *testing.T) {
	_, err := NewClient(context.Background(), Config{}, nil)
	require.Error(t, err)
	assert.Equal(t, "adapter type not specified", err.Error())
}

func TestNewClient_UnknownType(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Type: "oracle"}, nil)

	var unknown *UnknownAdapterError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "oracle", unknown.Type)
}

type failingClient struct {
	Client
	closed bool
}

func (f *failingClient) Connect(context.Context, Config) error { return errors.New("refused") }
func (f *failingClient) Close() error                          { f.closed = true; return nil }

func TestNewClient_ConnectFailureClosesClient(t *testing.T) {
	fc := &failingClient{}
	Register("Failing_Test", func(_ *slog.Logger) Client { return fc })

	assert.True(t, IsRegistered("failing_test"))

	_, err := NewClient(context.Background(), Config{Type: "FAILING_TEST"}, nil)
	require.Error(t, err)
	assert.Equal(t, "connect failing_test: refused", err.Error())
	assert.True(t, fc.closed)
}
