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

// Package groupkey is the single source of truth for which key encrypts
// messages in a meeting right now. It creates, unwraps, caches and rotates
// per-group symmetric keys; the authoritative wrapped copies live with the
// key distribution service, never here.
//
// Rotation guarantees future confidentiality only: a removed member cannot
// decrypt traffic sent under any later version, but history encrypted
// under versions they held is not re-encrypted.
package groupkey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taut0logy/Serenite-sub001/crypto"
	"github.com/taut0logy/Serenite-sub001/models"
)

// ErrStaleRotation is the optimistic-concurrency rejection for a rotation
// whose expected prior version no longer matches the cache. The caller
// re-reads current state and retries with the fresh version.
var ErrStaleRotation = errors.New("stale group key rotation")

// ErrGroupKeyExists is returned when CreateGroup is called for a group
// that already has an active key in this client.
var ErrGroupKeyExists = errors.New("group key already established")

// KeyInfo is the active key for one group. The symmetric key is held in
// memory only; version starts at 1 and strictly increases per rotation.
type KeyInfo struct {
	GroupID    string
	Key        []byte
	KeyVersion int
	CreatedAt  time.Time
}

// KeySource supplies the local user's identity and key pair.
type KeySource interface {
	UserID() (string, error)
	KeyPair() (*crypto.KeyPair, error)
}

// Distributor is the slice of the key distribution client the manager
// depends on.
type Distributor interface {
	PublishGroupKeys(ctx context.Context, publish models.GroupKeyPublish) error
	FetchGroupKey(ctx context.Context, groupID, userID string) (*models.GroupKeyBundle, error)
}

// Manager holds the per-group key cache for one logged-in user session.
// It is an explicit session-scoped object, not ambient global state, so
// several simulated users can coexist in one process.
type Manager struct {
	mu   sync.Mutex
	keys map[string]*KeyInfo

	source KeySource
	dist   Distributor
	log    *logrus.Entry
}

// NewManager creates an empty key cache bound to a user's key source and
// distribution client.
func NewManager(source KeySource, dist Distributor, log *logrus.Logger) *Manager {
	return &Manager{
		keys:   make(map[string]*KeyInfo),
		source: source,
		dist:   dist,
		log:    log.WithField("component", "groupkey"),
	}
}

// GetGroupKey returns the cached active key for a group, or nil when the
// group is absent or cleared. Pure cache read; never blocks on network.
// The returned KeyInfo is a private copy, so a Clear racing the caller
// cannot zero key bytes that are mid-use.
func (m *Manager) GetGroupKey(groupID string) *KeyInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.keys[groupID]
	if !ok {
		return nil
	}
	out := *info
	out.Key = append([]byte(nil), info.Key...)
	return &out
}

// CreateGroup generates a fresh symmetric key at version 1, wraps it
// individually for every member, caches it, and publishes the bundle.
// Exactly one participant per group instantiation may succeed; a loser of
// the create race observes distribution.ErrVersionConflict and falls back
// to FetchGroupKey + JoinGroup.
func (m *Manager) CreateGroup(ctx context.Context, groupID string, members []models.GroupMember) error {
	if existing := m.GetGroupKey(groupID); existing != nil {
		return fmt.Errorf("%w: group %s at version %d", ErrGroupKeyExists, groupID, existing.KeyVersion)
	}

	key, wrapped, err := m.wrapForMembers(members)
	if err != nil {
		return err
	}

	publish := models.GroupKeyPublish{
		GroupID:       groupID,
		EncryptedKeys: wrapped,
		KeyVersion:    1,
	}
	if err := m.dist.PublishGroupKeys(ctx, publish); err != nil {
		return fmt.Errorf("failed to publish group keys: %w", err)
	}

	m.mu.Lock()
	m.keys[groupID] = &KeyInfo{
		GroupID:    groupID,
		Key:        key,
		KeyVersion: 1,
		CreatedAt:  time.Now().UTC(),
	}
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"group_id":    groupID,
		"key_version": 1,
		"members":     len(members),
	}).Info("group key created")
	return nil
}

// JoinGroup unwraps a distributed copy of the group key using the local
// private key and the wrapper's public key, and caches it at the supplied
// version. A copy older than what is already cached is discarded, which
// guards against a late-arriving fetch overwriting a newer key.
func (m *Manager) JoinGroup(groupID, wrappedKey, wrapperPublicKey string, keyVersion int) error {
	pair, err := m.source.KeyPair()
	if err != nil {
		return err
	}

	senderPub, err := crypto.DecodePublicKey(wrapperPublicKey)
	if err != nil {
		return fmt.Errorf("invalid wrapper public key: %w", err)
	}

	key, err := crypto.UnwrapKey(wrappedKey, pair.PrivateKey, senderPub)
	if err != nil {
		return fmt.Errorf("failed to unwrap group key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.keys[groupID]; ok && existing.KeyVersion >= keyVersion {
		m.log.WithFields(logrus.Fields{
			"group_id":       groupID,
			"cached_version": existing.KeyVersion,
			"join_version":   keyVersion,
		}).Debug("discarding stale group key copy")
		return nil
	}
	m.keys[groupID] = &KeyInfo{
		GroupID:    groupID,
		Key:        key,
		KeyVersion: keyVersion,
		CreatedAt:  time.Now().UTC(),
	}

	m.log.WithFields(logrus.Fields{
		"group_id":    groupID,
		"key_version": keyVersion,
	}).Info("group key joined")
	return nil
}

// RotateGroupKey generates a brand-new key at the next version, re-wraps
// it for the full new member set, publishes, and installs it atomically.
// Invoked on every membership change so a removed member's old key cannot
// decrypt future traffic. Two rotations racing from the same starting
// version resolve to exactly one winner; the loser gets ErrStaleRotation.
func (m *Manager) RotateGroupKey(ctx context.Context, groupID string, members []models.GroupMember) error {
	m.mu.Lock()
	expected := 0
	if existing, ok := m.keys[groupID]; ok {
		expected = existing.KeyVersion
	}
	m.mu.Unlock()

	key, wrapped, err := m.wrapForMembers(members)
	if err != nil {
		return err
	}

	next := expected + 1
	publish := models.GroupKeyPublish{
		GroupID:       groupID,
		EncryptedKeys: wrapped,
		KeyVersion:    next,
	}
	if err := m.dist.PublishGroupKeys(ctx, publish); err != nil {
		return fmt.Errorf("failed to publish rotated group keys: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current := 0
	if existing, ok := m.keys[groupID]; ok {
		current = existing.KeyVersion
	}
	if current != expected {
		return fmt.Errorf("%w: expected version %d, cache moved to %d", ErrStaleRotation, expected, current)
	}
	m.keys[groupID] = &KeyInfo{
		GroupID:    groupID,
		Key:        key,
		KeyVersion: next,
		CreatedAt:  time.Now().UTC(),
	}

	m.log.WithFields(logrus.Fields{
		"group_id":    groupID,
		"key_version": next,
		"members":     len(members),
	}).Info("group key rotated")
	return nil
}

// FetchGroupKey asks the distribution service for this user's wrapped copy.
// Returns (nil, nil) when the group has no published key yet; transport
// failure surfaces as distribution.ErrUnavailable.
func (m *Manager) FetchGroupKey(ctx context.Context, groupID string) (*models.GroupKeyBundle, error) {
	userID, err := m.source.UserID()
	if err != nil {
		return nil, err
	}
	return m.dist.FetchGroupKey(ctx, groupID, userID)
}

// Clear drops all cached keys (logout). Key bytes are zeroed before the
// cache is released.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.keys {
		for i := range info.Key {
			info.Key[i] = 0
		}
	}
	m.keys = make(map[string]*KeyInfo)
}

// wrapForMembers generates a fresh symmetric key and one wrapped copy per
// member, each encrypted so no recipient can derive another's wrapping.
// A member whose public key cannot be decoded is skipped rather than
// failing the whole publish; one bad roster entry must not be able to
// block a rotation the remaining members depend on.
func (m *Manager) wrapForMembers(members []models.GroupMember) ([]byte, []models.WrappedKey, error) {
	pair, err := m.source.KeyPair()
	if err != nil {
		return nil, nil, err
	}

	key, err := crypto.GenerateGroupKey()
	if err != nil {
		return nil, nil, err
	}

	wrapped := make([]models.WrappedKey, 0, len(members))
	for _, member := range members {
		memberPub, err := crypto.DecodePublicKey(member.PublicKey)
		if err != nil {
			m.log.WithField("user_id", member.UserID).WithError(err).Warn("skipping member with unusable public key")
			continue
		}
		encryptedKey, err := crypto.WrapKey(key, pair.PrivateKey, memberPub)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to wrap key for member %s: %w", member.UserID, err)
		}
		wrapped = append(wrapped, models.WrappedKey{
			UserID:       member.UserID,
			EncryptedKey: encryptedKey,
		})
	}
	if len(wrapped) == 0 {
		return nil, nil, fmt.Errorf("no members with usable public keys")
	}
	return key, wrapped, nil
}
