package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voice-room/domain/room"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const profilePrefix = "profile:"

// ProfileRepository keeps user profiles in BadgerDB.
// Values are protobuf Structs keyed by "profile:{user_id}".
type ProfileRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewProfileRepository(db *badger.DB, log *slog.Logger) *ProfileRepository {
	return &ProfileRepository{db: db, log: log}
}

// Save overwrites the profile of user.UserID.
func (p ProfileRepository) Save(ctx context.Context, user room.UserInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := proto.Marshal(toPbProfile(user, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(profilePrefix+user.UserID), data)
	})
}

// Get returns the known profiles among ids, in the order of ids.
func (p ProfileRepository) Get(ctx context.Context, ids []string) ([]room.UserInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var users []room.UserInfo
	err := p.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get([]byte(profilePrefix + id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var profilePb structpb.Struct
			if err = item.Value(func(val []byte) error {
				return proto.Unmarshal(val, &profilePb)
			}); err != nil {
				return err
			}
			users = append(users, toUserInfo(&profilePb))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.log.Debug("Profiles loaded", "asked", len(ids), "found", len(users))
	return users, nil
}

func toPbProfile(user room.UserInfo, at time.Time) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"user_id":    structpb.NewStringValue(user.UserID),
		"name":       structpb.NewStringValue(user.Name),
		"avatar_url": structpb.NewStringValue(user.AvatarURL),
		"updated_at": structpb.NewStringValue(at.Format(time.RFC3339Nano)),
	}}
}

func toUserInfo(profilePb *structpb.Struct) room.UserInfo {
	fields := profilePb.GetFields()
	return room.UserInfo{
		UserID:    fields["user_id"].GetStringValue(),
		Name:      fields["name"].GetStringValue(),
		AvatarURL: fields["avatar_url"].GetStringValue(),
	}
}

// DecodeProfile reads a raw profile value, as found under "profile:{user_id}".
func DecodeProfile(val []byte) (room.UserInfo, time.Time, error) {
	var profilePb structpb.Struct
	if err := proto.Unmarshal(val, &profilePb); err != nil {
		return room.UserInfo{}, time.Time{}, fmt.Errorf("unmarshal failed: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, profilePb.GetFields()["updated_at"].GetStringValue())
	if err != nil {
		return room.UserInfo{}, time.Time{}, err
	}
	return toUserInfo(&profilePb), at, nil
}
