package internal

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func TestDebugServer_ListsPrefix(t *testing.T) {
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	req.NoError(db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte("profile:alice"), []byte("a")); err != nil {
			return err
		}
		return txn.Set([]byte("other:bob"), []byte("b"))
	}))

	stats := func() map[string]any { return map[string]any{"rooms": 3} }
	server := NewDebugServer(slog.Default(), db, ":0", "/inspect", nil, stats)

	// When scanning the default prefix
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inspect", nil))

	// Then only profiles are listed
	req.Equal(http.StatusOK, rec.Code)
	req.Contains(rec.Body.String(), "profile:alice")
	req.NotContains(rec.Body.String(), "other:bob")
	req.Contains(rec.Body.String(), "rooms: 3")
}

func TestDefaultMapper(t *testing.T) {
	req := require.New(t)
	row := DefaultMapper("profile:alice", []byte("abc"))
	req.Equal("profile", row.Namespace)
	req.Equal("alice", row.EntityID)
	req.Equal("Size: 3 bytes", row.Detail)

	row = DefaultMapper("raw", nil)
	req.Equal("default", row.Namespace)
}
