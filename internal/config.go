package internal

import (
	"fmt"
	"time"

	"voice-room/services"
)

type Config struct {
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`
	Host           string `env:"HOST,default=0.0.0.0"`
	Port           int    `env:"PORT,required=true"`
	DebugPort      int    `env:"DEBUG_PORT,default=8081"`
	BadgerFilepath string `env:"BADGER_FILEPATH"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH"`

	OperationTimeout  time.Duration `env:"OPERATION_TIMEOUT,default=5s"`
	DeliveryTimeout   time.Duration `env:"DELIVERY_TIMEOUT,default=1s"`
	InvitationTimeout time.Duration `env:"INVITATION_TIMEOUT,default=30s"`
	ExpiryInterval    time.Duration `env:"EXPIRY_INTERVAL,default=1s"`
	// InvitationRetention is how long terminated invitations stay queryable.
	InvitationRetention time.Duration `env:"INVITATION_RETENTION,default=10m"`
	RestartInterval     time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MetricInterval      time.Duration `env:"METRIC_INTERVAL,default=10s"`
	ResyncOnGap         bool          `env:"RESYNC_ON_GAP,default=true"`
	MaxContentLength    int           `env:"MAX_CONTENT_LENGTH,default=1024"`
	SearchLimit         int           `env:"SEARCH_LIMIT,default=20"`
	CharReplacement     string        `env:"CHARACTER_REPLACEMENT,default=*"`

	// LobbyRoomID opens a house-owned room at startup, 0 opens none.
	LobbyRoomID    int    `env:"LOBBY_ROOM_ID,default=0"`
	LobbyName      string `env:"LOBBY_NAME,default=Lobby"`
	LobbySeatCount int    `env:"LOBBY_SEAT_COUNT,default=8"`

	AuthSecret        string        `env:"AUTH_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
}

// Coordinator returns the per-user policy carried by the config.
func (c Config) Coordinator() services.Config {
	return services.Config{
		OperationTimeout:  c.OperationTimeout,
		DeliveryTimeout:   c.DeliveryTimeout,
		InvitationTimeout: c.InvitationTimeout,
		ExpiryInterval:    c.ExpiryInterval,
		RestartInterval:   c.RestartInterval,
		ResyncOnGap:       c.ResyncOnGap,
		MaxContentLength:  c.MaxContentLength,
		SearchLimit:       c.SearchLimit,
	}
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
