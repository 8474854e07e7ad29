package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rowbatch "github.com/vivaneiona/genkit-rowbatch"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "out", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	var mode string
	require.NoError(t, s.conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var busy int
	require.NoError(t, s.conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 5000, busy)
}

func TestWriteTable_RoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	in := &rowbatch.Table{
		Name:    "success",
		Columns: []string{"company", "city", `odd "name"`},
		Rows: [][]string{
			{"Acme", "Tokyo", "x"},
			{"Globex", "", "y"},
		},
	}
	require.NoError(t, s.WriteTable(ctx, in))

	out, err := s.ReadTable(ctx, "success")
	require.NoError(t, err)
	assert.Equal(t, in.Columns, out.Columns)
	assert.Equal(t, in.Rows, out.Rows)
}

func TestWriteTable_ReplacesExisting(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.WriteTable(ctx, &rowbatch.Table{
		Name: "errors", Columns: []string{"a", "b"}, Rows: [][]string{{"1", "2"}},
	}))
	require.NoError(t, s.WriteTable(ctx, &rowbatch.Table{
		Name: "errors", Columns: []string{"error_message"}, Rows: [][]string{{"boom"}, {"bang"}},
	}))

	out, err := s.ReadTable(ctx, "errors")
	require.NoError(t, err)
	assert.Equal(t, []string{"error_message"}, out.Columns)
	assert.Equal(t, [][]string{{"boom"}, {"bang"}}, out.Rows)
}

func TestWriteTable_ShortRowsArePadded(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.WriteTable(ctx, &rowbatch.Table{
		Name: "t", Columns: []string{"a", "b"}, Rows: [][]string{{"1"}},
	}))
	out, err := s.ReadTable(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", ""}}, out.Rows)
}

func TestWriteTable_Invalid(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	assert.Error(t, s.WriteTable(ctx, &rowbatch.Table{Columns: []string{"a"}}))
	assert.Error(t, s.WriteTable(ctx, &rowbatch.Table{Name: "empty"}))
}
