// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transport

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTransport is an in-process Transport for tests and local
// simulation of multiple participants. Delivery is fan-out to every
// subscriber of a channel, including the publisher.
type MemoryTransport struct {
	mu     sync.Mutex
	closed bool
	subs   map[string][]*memorySubscription
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		subs: make(map[string][]*memorySubscription),
	}
}

// Publish delivers the event to all current subscribers of the channel.
func (t *MemoryTransport) Publish(ctx context.Context, groupID string, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	for _, sub := range t.subs[groupID] {
		select {
		case sub.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a new subscriber for the meeting channel.
func (t *MemoryTransport) Subscribe(ctx context.Context, groupID string) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	sub := &memorySubscription{
		hub:     t,
		groupID: groupID,
		events:  make(chan Event, 64),
	}
	t.subs[groupID] = append(t.subs[groupID], sub)
	return sub, nil
}

// Close closes all subscriber channels.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for groupID, subs := range t.subs {
		for _, sub := range subs {
			close(sub.events)
		}
		delete(t.subs, groupID)
	}
	return nil
}

type memorySubscription struct {
	hub     *MemoryTransport
	groupID string
	events  chan Event
	once    sync.Once
}

func (s *memorySubscription) Events() <-chan Event {
	return s.events
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if s.hub.closed {
			return
		}
		remaining := s.hub.subs[s.groupID][:0]
		for _, sub := range s.hub.subs[s.groupID] {
			if sub != s {
				remaining = append(remaining, sub)
			}
		}
		s.hub.subs[s.groupID] = remaining
		close(s.events)
	})
	return nil
}
