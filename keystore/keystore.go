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

// Package keystore owns the lifecycle of the local user's X25519 key pair:
// load-else-generate on initialization, persistence in the platform
// credential store, registration of the public half with the key
// distribution service, and wholesale erasure on logout.
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/99designs/keyring"
	"github.com/sirupsen/logrus"

	"github.com/taut0logy/Serenite-sub001/crypto"
	"github.com/taut0logy/Serenite-sub001/models"
)

const (
	// ServiceName namespaces our entries in the platform credential store.
	ServiceName = "serenite-e2e"

	keyPairItemPrefix = "e2e_user_keypair"
)

// ErrNotInitialized is returned when key material is requested before
// Initialize has established a key pair.
var ErrNotInitialized = errors.New("key store not initialized")

// ErrPublishFailed wraps a failure to persist or register a freshly
// generated key pair. The pair still exists in memory for this session;
// callers may retry with RetryPublish.
var ErrPublishFailed = errors.New("key publish failed")

// Publisher registers public keys with the key distribution service.
type Publisher interface {
	PublishPublicKey(ctx context.Context, key models.UserPublicKey) error
}

// Store holds exactly one active key pair per (user, device) context.
type Store struct {
	mu        sync.Mutex
	ring      keyring.Keyring
	publisher Publisher
	log       *logrus.Entry

	userID string
	pair   *crypto.KeyPair
}

type serializedKeyPair struct {
	UserID     string `json:"user_id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// New creates a Store on top of an opened keyring.
func New(ring keyring.Keyring, publisher Publisher, log *logrus.Logger) *Store {
	return &Store{
		ring:      ring,
		publisher: publisher,
		log:       log.WithField("component", "keystore"),
	}
}

// Open opens the default platform credential store for this service.
func Open(publisher Publisher, log *logrus.Logger) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return New(ring, publisher, log), nil
}

// Initialize loads the persisted key pair for userID, or generates and
// persists a new one and registers its public half. Idempotent per process
// lifetime: a second call returns the already-established pair and never
// silently regenerates. A persistence or publish failure is surfaced as
// ErrPublishFailed but leaves the store initialized for this session.
func (s *Store) Initialize(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pair != nil && s.userID == userID {
		return nil
	}
	if s.pair != nil {
		return fmt.Errorf("key store already initialized for user %s", s.userID)
	}

	if pair, err := s.loadKeyPair(userID); err == nil && pair != nil {
		s.userID = userID
		s.pair = pair
		s.log.WithField("user_id", userID).Debug("loaded persisted key pair")
		return nil
	} else if err != nil {
		// Continue without the persisted copy; a new pair is generated below.
		s.log.WithField("user_id", userID).WithError(err).Warn("failed to load persisted key pair")
	}

	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}
	s.userID = userID
	s.pair = pair
	s.log.WithField("user_id", userID).Info("generated new key pair")

	if err := s.persistAndPublish(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}

// PublicKey returns the encoded public key.
func (s *Store) PublicKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return "", ErrNotInitialized
	}
	return crypto.EncodePublicKey(s.pair.PublicKey), nil
}

// KeyPair returns the full key pair for key wrapping operations.
func (s *Store) KeyPair() (*crypto.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return nil, ErrNotInitialized
	}
	return s.pair, nil
}

// UserID returns the identity the store was initialized for.
func (s *Store) UserID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return "", ErrNotInitialized
	}
	return s.userID, nil
}

// RetryPublish re-attempts persistence and registration after a previous
// Initialize returned ErrPublishFailed.
func (s *Store) RetryPublish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return ErrNotInitialized
	}
	if err := s.persistAndPublish(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}

// Clear erases the persisted and in-memory key pair (logout path). No key
// material survives into a different user's session in the same process.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID != "" {
		if err := s.ring.Remove(itemKey(s.userID)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("failed to remove persisted key pair: %w", err)
		}
	}
	if s.pair != nil {
		for i := range s.pair.PrivateKey {
			s.pair.PrivateKey[i] = 0
		}
	}
	s.pair = nil
	s.userID = ""
	return nil
}

func (s *Store) loadKeyPair(userID string) (*crypto.KeyPair, error) {
	item, err := s.ring.Get(itemKey(userID))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential store: %w", err)
	}

	var serialized serializedKeyPair
	if err := json.Unmarshal(item.Data, &serialized); err != nil {
		return nil, fmt.Errorf("failed to parse persisted key pair: %w", err)
	}
	if serialized.UserID != userID {
		return nil, fmt.Errorf("persisted key pair belongs to user %s", serialized.UserID)
	}

	priv, err := crypto.DecodePrivateKey(serialized.PrivateKey)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.DecodePublicKey(serialized.PublicKey)
	if err != nil {
		return nil, err
	}
	return &crypto.KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

func (s *Store) persistAndPublish(ctx context.Context) error {
	serialized := serializedKeyPair{
		UserID:     s.userID,
		PublicKey:  crypto.EncodePublicKey(s.pair.PublicKey),
		PrivateKey: crypto.EncodePrivateKey(s.pair.PrivateKey),
	}
	data, err := json.Marshal(serialized)
	if err != nil {
		return fmt.Errorf("failed to serialize key pair: %w", err)
	}

	if err := s.ring.Set(keyring.Item{Key: itemKey(s.userID), Data: data}); err != nil {
		return fmt.Errorf("failed to persist key pair: %w", err)
	}

	if s.publisher != nil {
		err := s.publisher.PublishPublicKey(ctx, models.UserPublicKey{
			UserID:    s.userID,
			PublicKey: serialized.PublicKey,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to register public key: %w", err)
		}
	}
	return nil
}

func itemKey(userID string) string {
	return keyPairItemPrefix + ":" + userID
}
