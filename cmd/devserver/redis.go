package main

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const fanoutPrefix = "room:"

// redisFanout shares live room traffic across devserver instances over
// redis pub/sub.
type redisFanout struct {
	rdb *redis.Client
}

func newRedisFanout(redisURL string) (*redisFanout, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	log.Info().Msg("[redis] connected")
	return &redisFanout{rdb: rdb}, nil
}

func (f *redisFanout) publish(roomID string, payload []byte) error {
	return f.rdb.Publish(context.Background(), fanoutPrefix+roomID, payload).Err()
}

// subscribe listens on all room channels and hands each payload to deliver.
// It returns when ctx is cancelled.
func (f *redisFanout) subscribe(ctx context.Context, deliver func(roomID string, payload []byte)) {
	pubsub := f.rdb.PSubscribe(ctx, fanoutPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		log.Error().Err(err).Msg("[redis] subscription confirmation failed")
		return
	}
	log.Info().Str("pattern", fanoutPrefix+"*").Msg("[redis] subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				log.Info().Msg("[redis] pub/sub channel closed")
				return
			}
			roomID := strings.TrimPrefix(msg.Channel, fanoutPrefix)
			deliver(roomID, []byte(msg.Payload))
		case <-ctx.Done():
			return
		}
	}
}

func (f *redisFanout) close() error {
	return f.rdb.Close()
}
