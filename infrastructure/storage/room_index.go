package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"voice-room/domain/room"

	"github.com/blugelabs/bluge"
)

const (
	nameField = "name"
	idField   = "_id"
)

// RoomIndex is a full text index over room names, backed by bluge.
type RoomIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

// OpenRoomIndex opens the index at path, or in memory when path is empty.
func OpenRoomIndex(path string, log *slog.Logger) (*RoomIndex, error) {
	cfg := bluge.InMemoryOnlyConfig()
	if path != "" {
		cfg = bluge.DefaultConfig(path)
	}
	writer, err := bluge.OpenWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("open bluge writer: %w", err)
	}
	return &RoomIndex{writer: writer, log: log}, nil
}

func (r *RoomIndex) Index(info room.Info) error {
	doc := bluge.NewDocument(strconv.Itoa(int(info.ID))).
		AddField(bluge.NewTextField(nameField, info.Name).StoreValue())
	return r.writer.Update(doc.ID(), doc)
}

func (r *RoomIndex) Remove(id room.ID) error {
	return r.writer.Delete(bluge.NewDocument(strconv.Itoa(int(id))).ID())
}

// Search matches text against room names, whole words or prefixes.
func (r *RoomIndex) Search(ctx context.Context, text string, limit int) ([]room.ID, error) {
	if limit <= 0 {
		limit = 20
	}
	reader, err := r.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			r.log.Debug("Unable to close index reader", "error", err)
		}
	}()

	query := bluge.NewBooleanQuery()
	for _, word := range strings.Fields(strings.ToLower(text)) {
		query.AddShould(bluge.NewMatchQuery(word).SetField(nameField))
		query.AddShould(bluge.NewPrefixQuery(word).SetField(nameField))
	}
	it, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var ids []room.ID
	match, err := it.Next()
	for err == nil && match != nil {
		var id room.ID
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			if field == idField {
				n, convErr := strconv.Atoi(string(value))
				if convErr == nil {
					id = room.ID(n)
				}
				return false
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		if id.Valid() {
			ids = append(ids, id)
		}
		match, err = it.Next()
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *RoomIndex) Close() error {
	return r.writer.Close()
}
