// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const meetingChannelPrefix = "meeting:chat:" // meeting:chat:{groupId}

// RedisTransport relays events through Redis pub/sub. The broker only
// handles opaque envelopes; plaintext never reaches it.
type RedisTransport struct {
	rdb *redis.Client
	log *logrus.Entry
}

// NewRedisTransport creates a transport on an existing Redis client.
func NewRedisTransport(rdb *redis.Client, log *logrus.Logger) *RedisTransport {
	return &RedisTransport{
		rdb: rdb,
		log: log.WithField("component", "transport"),
	}
}

// Publish sends one event to the meeting channel.
func (t *RedisTransport) Publish(ctx context.Context, groupID string, ev Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	if err := t.rdb.Publish(ctx, meetingChannelPrefix+groupID, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe joins the meeting channel. Malformed inbound payloads are
// dropped with a warning; one bad message must not take down the stream.
func (t *RedisTransport) Subscribe(ctx context.Context, groupID string) (Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := t.rdb.Subscribe(subCtx, meetingChannelPrefix+groupID)

	// Confirm the subscription before reporting the channel as joined.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to meeting channel: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan Event, 64),
		cancel: cancel,
	}
	go t.pump(subCtx, groupID, sub)
	return sub, nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	events    chan Event
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.pubsub.Close()
	})
	return s.closeErr
}

func (t *RedisTransport) pump(ctx context.Context, groupID string, sub *redisSubscription) {
	defer close(sub.events)
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				t.log.WithField("group_id", groupID).WithError(err).Warn("dropping malformed event")
				continue
			}
			select {
			case sub.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
