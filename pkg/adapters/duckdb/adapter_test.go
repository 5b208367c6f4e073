package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapclean/pkg/adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, cfg adapter.Config) *Client {
	t.Helper()
	c := New(nil)
	require.NoError(t, c.Connect(context.Background(), cfg))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Connect(t *testing.T) {
	tests := []struct {
		name      string
		setupPath func(t *testing.T) string
		verify    func(t *testing.T, path string)
	}{
		{
			name: "in-memory",
			setupPath: func(_ *testing.T) string {
				return ":memory:"
			},
		},
		{
			name: "empty path defaults to memory",
			setupPath: func(_ *testing.T) string {
				return ""
			},
		},
		{
			name: "file-based",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "test.duckdb")
			},
			verify: func(t *testing.T, path string) {
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "database file was not created")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setupPath(t)
			c := connect(t, adapter.Config{Path: path})
			assert.True(t, c.IsConnected())
			assert.Equal(t, "duckdb", c.Dialect())

			if tt.verify != nil {
				tt.verify(t, path)
			}
		})
	}
}

func TestClient_NotConnected(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	_, err := c.Execute(ctx, "SELECT 1")
	assert.Error(t, err)

	_, err = c.Query(ctx, "SELECT 1")
	assert.Error(t, err)

	assert.Error(t, c.LoadCSV(ctx, "t", "missing.csv"))
	assert.NoError(t, c.Close())
}

func TestClient_ExecuteAndQuery(t *testing.T) {
	ctx := context.Background()
	c := connect(t, adapter.Config{})

	require.NoError(t, c.EnsureDataset(ctx, "ds"))

	job, err := c.Execute(ctx, "CREATE TABLE ds.person (person_id INTEGER, gender VARCHAR)")
	require.NoError(t, err)
	require.NoError(t, job.Wait(ctx))

	job, err = c.Execute(ctx, "INSERT INTO ds.person VALUES (1, 'F'), (2, 'M'), (3, NULL)")
	require.NoError(t, err)
	require.NoError(t, job.Wait(ctx))

	rows, err := c.Query(ctx, "SELECT COUNT(*) FROM ds.person WHERE gender IS NOT NULL")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	assert.Equal(t, 2, n)

	job, err = c.Execute(ctx, "SELECT * FROM ds.missing")
	require.NoError(t, err)
	assert.Error(t, job.Wait(ctx))
}

func TestClient_Columns(t *testing.T) {
	ctx := context.Background()
	c := connect(t, adapter.Config{})

	require.NoError(t, c.EnsureDataset(ctx, "ds"))
	job, err := c.Execute(ctx, "CREATE TABLE ds.visit (visit_id BIGINT NOT NULL, visit_start DATE)")
	require.NoError(t, err)
	require.NoError(t, job.Wait(ctx))

	cols, err := c.Columns(ctx, "ds", "visit")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "visit_id", cols[0].Name)
	assert.Equal(t, "BIGINT", cols[0].Type)
	assert.False(t, cols[0].Nullable)
	assert.Equal(t, "visit_start", cols[1].Name)
	assert.True(t, cols[1].Nullable)

	_, err = c.Columns(ctx, "ds", "nope")
	assert.Error(t, err)
}

func TestClient_LoadCSV(t *testing.T) {
	ctx := context.Background()
	c := connect(t, adapter.Config{})

	csvPath := filepath.Join(t.TempDir(), "lookup.csv")
	csvContent := `concept_id,replacement
1,alpha
2,beta
3,gamma`
	require.NoError(t, os.WriteFile(csvPath, []byte(csvContent), 0600))

	require.NoError(t, c.LoadCSV(ctx, "lookup", csvPath))

	rows, err := c.Query(ctx, "SELECT COUNT(*) FROM lookup")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var count int
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&count))
	assert.Equal(t, 3, count)

	cols, err := c.Columns(ctx, "", "lookup")
	require.NoError(t, err)
	assert.Len(t, cols, 2)
}

func TestConnect_WithSettings(t *testing.T) {
	ctx := context.Background()
	c := connect(t, adapter.Config{
		Path: ":memory:",
		Params: map[string]any{
			"settings": map[string]any{
				"threads": "2",
			},
		},
	})

	rows, err := c.Query(ctx, "SELECT current_setting('threads')")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	require.True(t, rows.Next())

	var threads string
	require.NoError(t, rows.Scan(&threads))
	assert.Equal(t, "2", threads)
}

func TestConnect_InvalidParams(t *testing.T) {
	c := New(nil)
	err := c.Connect(context.Background(), adapter.Config{
		Params: map[string]any{"bogus": true},
	})
	require.Error(t, err)
	assert.False(t, c.IsConnected())
}

func TestConnect_RegisteredWithAdapterRegistry(t *testing.T) {
	assert.True(t, adapter.IsRegistered("duckdb"))

	client, err := adapter.NewClient(context.Background(), adapter.Config{Type: "duckdb"}, nil)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	assert.Equal(t, "duckdb", client.Dialect())
}
