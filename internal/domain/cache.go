package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// BusMessage is a payload received from a pub/sub channel.
type BusMessage struct {
	Channel string
	Payload []byte
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// UserChannel is the pub/sub channel carrying events for one user.
func UserChannel(userID string) string {
	return "ch:user:" + userID
}

// AuctionChannel is the pub/sub channel carrying events for one auction.
func AuctionChannel(auctionID string) string {
	return "ch:auction:" + auctionID
}
