package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis fans events out over a pub/sub channel so every process sees every
// job's status. Local subscribers are served from an embedded Broker fed by
// Run.
type Redis struct {
	rdb     *redis.Client
	channel string
	local   *Broker
	log     *slog.Logger
}

var _ Notifier = (*Redis)(nil)

func NewRedis(rdb *redis.Client, channel string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = "subsidy.jobs"
	}
	return &Redis{rdb: rdb, channel: channel, local: NewBroker(logger), log: logger}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		r.log.Warn("notify.redis.publish_failed", "job_id", ev.JobID, "err", err)
		// local subscribers still get it
		r.local.deliver(ev)
		return err
	}
	return nil
}

func (r *Redis) Subscribe(jobID uuid.UUID) (<-chan Event, func()) {
	return r.local.Subscribe(jobID)
}

// Run relays channel messages to local subscribers until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	defer func() {
		if err := ps.Close(); err != nil {
			r.log.Warn("notify.redis.close_failed", "err", err)
		}
	}()
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	r.log.Info("notify.redis.subscribed", "channel", r.channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Warn("notify.redis.bad_payload", "err", err)
				continue
			}
			r.local.deliver(ev)
		}
	}
}
