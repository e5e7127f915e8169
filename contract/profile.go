//go:generate go run go.uber.org/mock/mockgen -source=profile.go -destination=../mocks/mock_profile.go -package=mocks
package contract

import (
	"context"

	"voice-room/domain/room"
)

type ProfileRepository interface {
	Save(ctx context.Context, user room.UserInfo) error
	// Get returns the known profiles among ids, in the order of ids.
	Get(ctx context.Context, ids []string) ([]room.UserInfo, error)
}
