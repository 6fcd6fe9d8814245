package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Database {
	t.Helper()
	level, err := NewLevelDB(filepath.Join(t.TempDir(), "level"))
	require.NoError(t, err)
	lite, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	backends := map[string]Database{
		DriverMemory:  NewMemDB(),
		DriverLevelDB: level,
		DriverSQLite:  lite,
	}
	t.Cleanup(func() {
		for _, db := range backends {
			_ = db.Close()
		}
	})
	return backends
}

func TestDatabasePutGet(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("tx:a"), []byte("one")))
			require.NoError(t, db.Put([]byte("tx:a"), []byte("two")))

			value, err := db.Get([]byte("tx:a"))
			require.NoError(t, err)
			require.Equal(t, "two", string(value))

			_, err = db.Get([]byte("tx:missing"))
			require.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
		})
	}
}

func TestDatabaseIteratePrefixOrdered(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"seq:0003", "seq:0001", "tx:z", "seq:0002", "seq;x"} {
				require.NoError(t, db.Put([]byte(key), []byte(key)))
			}
			var seen []string
			err := db.Iterate([]byte("seq:"), func(key, value []byte) error {
				require.Equal(t, string(key), string(value))
				seen = append(seen, string(key))
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, []string{"seq:0001", "seq:0002", "seq:0003"}, seen)
		})
	}
}

func TestDatabaseIterateStopsOnError(t *testing.T) {
	stop := errors.New("stop")
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("k1"), []byte("v")))
			require.NoError(t, db.Put([]byte("k2"), []byte("v")))
			calls := 0
			err := db.Iterate(nil, func(key, value []byte) error {
				calls++
				return stop
			})
			require.ErrorIs(t, err, stop)
			require.Equal(t, 1, calls)
		})
	}
}

func TestDatabaseBatchWrite(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			batch := new(Batch)
			batch.Put([]byte("a"), []byte("1"))
			batch.Put([]byte("b"), []byte("2"))
			require.Equal(t, 2, batch.Len())
			require.NoError(t, db.Write(batch))

			for key, want := range map[string]string{"a": "1", "b": "2"} {
				got, err := db.Get([]byte(key))
				require.NoError(t, err)
				require.Equal(t, want, string(got))
			}
			require.NoError(t, db.Write(new(Batch)))
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("tx:1"), []byte("payload")))
	require.NoError(t, db.Close())

	reopened, err := NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get([]byte("tx:1"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(value))
}

func TestSQLiteAuditLog(t *testing.T) {
	db, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, method := range []string{"CreateTransaction", "PerformTransaction"} {
		require.NoError(t, db.InsertAudit(ctx, AuditEntry{
			Method:         "POST",
			Path:           "/payme",
			RPCMethod:      method,
			RequestBody:    []byte(`{}`),
			ResponseStatus: 200,
			ResponseBody:   []byte(`{"result":{}}`),
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	entries, err := db.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "PerformTransaction", entries[0].RPCMethod)
	require.Equal(t, "CreateTransaction", entries[1].RPCMethod)
	require.Equal(t, 200, entries[1].ResponseStatus)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("bolt", "x")
	require.Error(t, err)

	db, err := Open(DriverMemory, "")
	require.NoError(t, err)
	require.IsType(t, &MemDB{}, db)
}

func TestPrefixRange(t *testing.T) {
	start, limit := prefixRange([]byte("ab"))
	require.Equal(t, []byte("ab"), start)
	require.Equal(t, []byte("ac"), limit)

	_, limit = prefixRange([]byte{0x01, 0xff})
	require.Equal(t, []byte{0x02}, limit)

	_, limit = prefixRange([]byte{0xff})
	require.Nil(t, limit)
}
