package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelPrefix namespaces relay channels in Redis.
const ChannelPrefix = "opsagent:notices:"

// Channel returns the Redis channel carrying a session's notices.
func Channel(sessionID string) string { return ChannelPrefix + sessionID }

// RedisRelay mirrors notices onto Redis Pub/Sub so another replica can serve
// the viewer. Like the bus itself, Pub/Sub drops messages nobody listens to.
type RedisRelay struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	pending chan Notice
	timeout time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewRedisRelay starts the background publisher. buffer bounds notices
// waiting to be written; when it is full new notices are dropped.
func NewRedisRelay(client redis.UniversalClient, buffer int, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultBacklog
	}
	r := &RedisRelay{
		client:  client,
		logger:  logger,
		pending: make(chan Notice, buffer),
		timeout: 2 * time.Second,
		stop:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Forward queues n for publication without blocking.
func (r *RedisRelay) Forward(n Notice) {
	select {
	case <-r.stop:
		return
	default:
	}
	select {
	case r.pending <- n:
	default:
		r.logger.Debug("Relay buffer full, dropping notice", zap.String("session_id", n.SessionID))
	}
}

// Close flushes queued notices and stops the publisher.
func (r *RedisRelay) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *RedisRelay) run() {
	defer r.wg.Done()
	for {
		select {
		case n := <-r.pending:
			r.publish(n)
		case <-r.stop:
			for {
				select {
				case n := <-r.pending:
					r.publish(n)
				default:
					return
				}
			}
		}
	}
}

func (r *RedisRelay) publish(n Notice) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, Channel(n.SessionID), n.Marshal()).Err(); err != nil {
		r.logger.Warn("Failed to relay notice",
			zap.String("session_id", n.SessionID),
			zap.Error(err),
		)
	}
}

// Subscribe listens for relayed notices of one session until ctx is done.
// The returned channel is closed when the subscription ends.
func (r *RedisRelay) Subscribe(ctx context.Context, sessionID string) (<-chan Notice, error) {
	sub := r.client.Subscribe(ctx, Channel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan Notice, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var n Notice
				if err := json.Unmarshal([]byte(m.Payload), &n); err != nil {
					r.logger.Warn("Discarding malformed relayed notice", zap.Error(err))
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
