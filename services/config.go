package services

import "time"

// Config is the policy of one coordinator.
type Config struct {
	// OperationTimeout bounds the wait for the echo of an operation. Zero waits forever.
	OperationTimeout time.Duration
	// DeliveryTimeout bounds each subscriber call.
	DeliveryTimeout time.Duration
	// InvitationTimeout is given to every invitation this coordinator sends. Zero never expires.
	InvitationTimeout time.Duration
	// ExpiryInterval is how often overdue invitations are expired, when the coordinator owns its store.
	ExpiryInterval  time.Duration
	RestartInterval time.Duration
	ResyncOnGap     bool
	// MaxContentLength caps text messages, custom payloads and invitation contents, in runes.
	MaxContentLength int
	SearchLimit      int
}

func DefaultConfig() Config {
	return Config{
		OperationTimeout:  5 * time.Second,
		DeliveryTimeout:   time.Second,
		InvitationTimeout: 30 * time.Second,
		ExpiryInterval:    time.Second,
		RestartInterval:   200 * time.Millisecond,
		ResyncOnGap:       true,
		MaxContentLength:  1024,
		SearchLimit:       20,
	}
}
