package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"walkroom/native/internal/domain"
)

// RedisOptions selects the Redis server backing a RedisRelay.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// DialRedis connects to Redis and checks the connection.
func DialRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisRelay uses Redis pub/sub, one channel per room. Redis echoes
// messages back to the publisher.
type RedisRelay struct {
	client *redis.Client
	log    *slog.Logger
}

var _ domain.Relay = (*RedisRelay)(nil)

// NewRedisRelay wraps an existing client.
func NewRedisRelay(client *redis.Client, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, log: logger.With("component", "signal")}
}

// Channel returns the Redis channel for room.
func Channel(room string) string {
	return "walkroom:" + room
}

// Subscribe returns once Redis has confirmed the subscription.
func (r *RedisRelay) Subscribe(ctx context.Context, room string, onMessage func([]byte), onLost func(error)) (domain.Subscription, error) {
	ch := Channel(room)
	ps := r.client.Subscribe(ctx, ch)
	reply, err := ps.Receive(ctx)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", ch, err)
	}
	if _, ok := reply.(*redis.Subscription); !ok {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: unexpected reply %T", ch, reply)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSub{
		relay:  r,
		ps:     ps,
		room:   room,
		cancel: cancel,
	}
	go sub.loop(loopCtx, onMessage, onLost)

	r.log.Info("subscribed", "channel", ch)
	return sub, nil
}

// Publish sends data on the room channel.
func (r *RedisRelay) Publish(ctx context.Context, room string, data []byte) error {
	if err := r.client.Publish(ctx, Channel(room), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

type redisSub struct {
	relay  *RedisRelay
	ps     *redis.PubSub
	room   string
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSub) loop(ctx context.Context, onMessage func([]byte), onLost func(error)) {
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			if !s.stop() {
				return
			}
			s.relay.log.Warn("redis subscription lost", "room", s.room, "err", err)
			if onLost != nil {
				onLost(err)
			}
			return
		}
		if onMessage != nil {
			onMessage([]byte(msg.Payload))
		}
	}
}

// stop reports whether this call ended the subscription.
func (s *redisSub) stop() bool {
	first := false
	s.once.Do(func() {
		first = true
		s.cancel()
		_ = s.ps.Close()
	})
	return first
}

func (s *redisSub) Unsubscribe() error {
	if s.stop() {
		s.relay.log.Info("unsubscribed", "channel", Channel(s.room))
	}
	return nil
}
