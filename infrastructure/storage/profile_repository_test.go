package storage

import (
	"context"
	"log/slog"
	"testing"

	"voice-room/domain/room"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

// SetupTestDB initializes a temporary Badger instance for testing
func SetupTestDB(t *testing.T) *badger.DB {
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProfileRepository_SaveAndGet(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewProfileRepository(SetupTestDB(t), slog.Default())

	req.NoError(repo.Save(ctx, room.UserInfo{UserID: "alice", Name: "Alice", AvatarURL: "https://cdn.example.com/a.png"}))
	req.NoError(repo.Save(ctx, room.UserInfo{UserID: "bob", Name: "Bob"}))

	// When asking for known and unknown users
	users, err := repo.Get(ctx, []string{"bob", "carol", "alice"})

	// Then only known ones come back, in the asked order
	req.NoError(err)
	req.Equal([]room.UserInfo{
		{UserID: "bob", Name: "Bob"},
		{UserID: "alice", Name: "Alice", AvatarURL: "https://cdn.example.com/a.png"},
	}, users)
}

func TestProfileRepository_SaveOverwrites(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewProfileRepository(SetupTestDB(t), slog.Default())

	req.NoError(repo.Save(ctx, room.UserInfo{UserID: "alice", Name: "Alice"}))
	req.NoError(repo.Save(ctx, room.UserInfo{UserID: "alice", Name: "Alice B."}))

	users, err := repo.Get(ctx, []string{"alice"})
	req.NoError(err)
	req.Len(users, 1)
	req.Equal("Alice B.", users[0].Name)
}

func TestProfileRepository_CancelledContext(t *testing.T) {
	req := require.New(t)
	repo := NewProfileRepository(SetupTestDB(t), slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req.ErrorIs(repo.Save(ctx, room.UserInfo{UserID: "alice"}), context.Canceled)
	_, err := repo.Get(ctx, []string{"alice"})
	req.ErrorIs(err, context.Canceled)
}

func TestDecodeProfile(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := SetupTestDB(t)
	repo := NewProfileRepository(db, slog.Default())
	req.NoError(repo.Save(ctx, room.UserInfo{UserID: "alice", Name: "Alice"}))

	var raw []byte
	req.NoError(db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("profile:alice"))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	}))

	user, at, err := DecodeProfile(raw)
	req.NoError(err)
	req.Equal("Alice", user.Name)
	req.False(at.IsZero())

	_, _, err = DecodeProfile([]byte("not a profile"))
	req.Error(err)
}
