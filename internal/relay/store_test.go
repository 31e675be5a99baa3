package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T, limit int) map[string]Store {
	t.Helper()
	mem, err := OpenSQLite(":memory:", limit)
	require.NoError(t, err)
	file, err := OpenSQLite(filepath.Join(t.TempDir(), "relay.db"), limit)
	require.NoError(t, err)
	t.Cleanup(func() {
		mem.Close()
		file.Close()
	})
	return map[string]Store{
		"memory":        NewMemoryStore(limit),
		"sqlite-memory": mem,
		"sqlite-file":   file,
	}
}

func rec(room, device string, n int) Record {
	return Record{
		Room:     room,
		DeviceID: device,
		Body:     []byte(fmt.Sprintf(`{"n":%d}`, n)),
		StoredAt: time.Date(2026, 3, 1, 12, 0, n, 0, time.UTC),
	}
}

func TestStores_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t, 10) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "lab")
			assert.True(t, errors.Is(err, ErrNotFound), "empty room: %v", err)

			require.NoError(t, s.Put(ctx, rec("lab", "dev-a", 1)))
			require.NoError(t, s.Put(ctx, rec("lab", "dev-b", 2)))
			require.NoError(t, s.Put(ctx, rec("other", "dev-c", 3)))

			got, err := s.Get(ctx, "lab")
			require.NoError(t, err)
			if diff := cmp.Diff(rec("lab", "dev-b", 2), got); diff != "" {
				t.Errorf("Get mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStores_HistoryIsBoundedNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t, 3) {
		t.Run(name, func(t *testing.T) {
			for i := 1; i <= 5; i++ {
				require.NoError(t, s.Put(ctx, rec("lab", "dev-a", i)))
			}

			all, err := s.History(ctx, "lab", 0)
			require.NoError(t, err)
			want := []Record{rec("lab", "dev-a", 5), rec("lab", "dev-a", 4), rec("lab", "dev-a", 3)}
			if diff := cmp.Diff(want, all); diff != "" {
				t.Errorf("History mismatch (-want +got):\n%s", diff)
			}

			two, err := s.History(ctx, "lab", 2)
			require.NoError(t, err)
			assert.Len(t, two, 2)

			none, err := s.History(ctx, "empty", 5)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestMemoryStore_CopiesBody(t *testing.T) {
	s := NewMemoryStore(0)
	body := []byte(`{"a":1}`)
	require.NoError(t, s.Put(context.Background(), Record{Room: "r", Body: body}))
	body[0] = 'X'

	got, err := s.Get(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got.Body))
}

func TestSQLiteStore_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	s, err := OpenSQLite(path, 0)
	require.NoError(t, err)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	require.NoError(t, s.Put(context.Background(), rec("lab", "dev", 1)))
	require.NoError(t, s.Close())

	// Reopening an up-to-date database keeps its rows.
	s, err = OpenSQLite(path, 0)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), "lab")
	require.NoError(t, err)
	assert.Equal(t, "dev", got.DeviceID)
}
