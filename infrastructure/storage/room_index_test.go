package storage

import (
	"context"
	"log/slog"
	"testing"

	"voice-room/domain/room"

	"github.com/stretchr/testify/require"
)

func TestRoomIndex_Search(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index, err := OpenRoomIndex(t.TempDir(), slog.Default())
	req.NoError(err)
	defer index.Close()

	req.NoError(index.Index(room.Info{ID: 1, Name: "Late night jazz"}))
	req.NoError(index.Index(room.Info{ID: 2, Name: "Rock karaoke"}))
	req.NoError(index.Index(room.Info{ID: 3, Name: "Jazz standards"}))

	ids, err := index.Search(ctx, "jazz", 10)
	req.NoError(err)
	req.ElementsMatch([]room.ID{1, 3}, ids)

	// Prefixes match too
	ids, err = index.Search(ctx, "karao", 10)
	req.NoError(err)
	req.Equal([]room.ID{2}, ids)

	ids, err = index.Search(ctx, "jazz", 1)
	req.NoError(err)
	req.Len(ids, 1)
}

func TestRoomIndex_UpdateAndRemove(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index, err := OpenRoomIndex("", slog.Default())
	req.NoError(err)
	defer index.Close()

	req.NoError(index.Index(room.Info{ID: 1, Name: "Jazz"}))
	req.NoError(index.Index(room.Info{ID: 1, Name: "Blues"}))

	ids, err := index.Search(ctx, "jazz", 10)
	req.NoError(err)
	req.Empty(ids)
	ids, err = index.Search(ctx, "blues", 10)
	req.NoError(err)
	req.Equal([]room.ID{1}, ids)

	req.NoError(index.Remove(1))
	ids, err = index.Search(ctx, "blues", 10)
	req.NoError(err)
	req.Empty(ids)
}
