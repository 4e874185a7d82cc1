package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Notifier delivers an event to a user wherever they are reachable.
type Notifier interface {
	Notify(userID string, msg ServerMessage)
}

const (
	notifyChannelPrefix = "pong:notify:"
	publishBuffer       = 256
)

type publication struct {
	channel string
	msgType string
	data    []byte
}

// RedisNotifier delivers to local connections and also publishes every
// notification except per-tick state on a per-user channel, so the social
// gateway can surface it (for example "you have been invited") on pages
// without a game socket. A single publisher goroutine keeps each user's
// events in order; when Redis falls behind, events are dropped rather than
// queued without bound.
type RedisNotifier struct {
	local   Notifier
	rdb     *redis.Client
	timeout time.Duration

	outbox    chan publication
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewRedisNotifier(local Notifier, rdb *redis.Client) *RedisNotifier {
	n := &RedisNotifier{
		local:   local,
		rdb:     rdb,
		timeout: 2 * time.Second,
		outbox:  make(chan publication, publishBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go n.publishLoop()
	return n
}

// Notify never blocks; callers may hold broker locks.
func (n *RedisNotifier) Notify(userID string, msg ServerMessage) {
	n.local.Notify(userID, msg)
	if msg.Type == EventStateUpdate {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal notification")
		return
	}

	pub := publication{channel: NotifyChannel(userID), msgType: msg.Type, data: data}
	select {
	case <-n.stop:
		return
	default:
	}

	select {
	case n.outbox <- pub:
	default:
		log.Warn().Str("user", userID).Str("type", msg.Type).Msg("Publish buffer full, dropping notification")
	}
}

func (n *RedisNotifier) publishLoop() {
	defer close(n.done)

	for {
		select {
		case pub := <-n.outbox:
			n.publish(pub)
		case <-n.stop:
			// Flush what was accepted before Close.
			for {
				select {
				case pub := <-n.outbox:
					n.publish(pub)
				default:
					return
				}
			}
		}
	}
}

func (n *RedisNotifier) publish(pub publication) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.rdb.Publish(ctx, pub.channel, pub.data).Err(); err != nil {
		log.Warn().Err(err).Str("channel", pub.channel).Str("type", pub.msgType).Msg("Failed to publish notification")
	}
}

// Close stops the publisher after flushing buffered events, or when ctx
// is done.
func (n *RedisNotifier) Close(ctx context.Context) error {
	n.closeOnce.Do(func() { close(n.stop) })

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func NotifyChannel(userID string) string {
	return notifyChannelPrefix + userID
}

func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
