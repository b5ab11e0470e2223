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

// Package session glues the crypto components to a live meeting channel:
// it establishes the group key on entry, decrypts inbound envelopes,
// encrypts outbound messages, rotates the key on membership changes and
// exposes readiness state to the UI.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/taut0logy/Serenite-sub001/crypto"
	"github.com/taut0logy/Serenite-sub001/distribution"
	"github.com/taut0logy/Serenite-sub001/groupkey"
	"github.com/taut0logy/Serenite-sub001/keystore"
	"github.com/taut0logy/Serenite-sub001/models"
	"github.com/taut0logy/Serenite-sub001/transport"
)

// EncryptionState is the UI-facing readiness of the crypto layer,
// independent of transport connectivity.
type EncryptionState string

const (
	StateUninitialized EncryptionState = "uninitialized"
	StateInitializing  EncryptionState = "encryption_initializing"
	StateReady         EncryptionState = "encryption_ready"
	StateFailed        EncryptionState = "encryption_failed"
)

// ErrNotReady rejects a send attempted outside EncryptionReady or while
// the transport is disconnected. Surfaced as a blocked action, never a
// silent drop.
var ErrNotReady = errors.New("encryption not ready")

const (
	defaultMaxMessages = 100

	placeholderDecryptFailed  = "[Encrypted message - decryption failed]"
	placeholderKeyUnavailable = "[Encrypted message - key not available]"
)

// Identity is the local participant.
type Identity struct {
	UserID      string
	DisplayName string
}

// Message is one decrypted (or marked undecryptable) chat entry held in
// the ephemeral UI history.
type Message struct {
	ID              string
	UserID          string
	DisplayName     string
	Content         string
	Timestamp       time.Time
	System          bool
	Decrypted       bool
	DecryptionError string
}

// Controller drives one meeting's encrypted chat. All state is scoped to
// the logged-in user's session; nothing is ambient or global.
type Controller struct {
	identity    Identity
	groupID     string
	maxMessages int

	keys    *keystore.Store
	manager *groupkey.Manager
	tp      transport.Transport
	log     *logrus.Entry

	mu         sync.Mutex
	state      EncryptionState
	failReason string
	epoch      int
	roster     map[string]models.GroupMember
	messages   []Message
	sub        transport.Subscription
	loopDone   chan struct{}

	// opMu serializes rotations and sends so a message is never encrypted
	// under a key older than the most recently completed rotation.
	opMu sync.Mutex
}

// Config assembles a Controller.
type Config struct {
	Identity    Identity
	GroupID     string
	Keys        *keystore.Store
	Manager     *groupkey.Manager
	Transport   transport.Transport
	Logger      *logrus.Logger
	MaxMessages int
}

// NewController creates a controller in the Uninitialized state.
func NewController(cfg Config) *Controller {
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &Controller{
		identity:    cfg.Identity,
		groupID:     cfg.GroupID,
		maxMessages: maxMessages,
		keys:        cfg.Keys,
		manager:     cfg.Manager,
		tp:          cfg.Transport,
		log: cfg.Logger.WithFields(logrus.Fields{
			"component": "session",
			"group_id":  cfg.GroupID,
		}),
		state:  StateUninitialized,
		roster: make(map[string]models.GroupMember),
	}
}

// Start establishes encryption for the meeting and joins its channel.
// Idempotent and repeatable: calling it again after a failure retries the
// whole flow; calling it while Ready is a no-op. members is the known
// roster, possibly empty when joining an existing group.
//
// Start is abortable through ctx. A late-arriving result of an aborted
// attempt never overwrites state from a newer attempt.
func (c *Controller) Start(ctx context.Context, members []models.GroupMember) error {
	c.mu.Lock()
	if c.state == StateReady {
		c.mu.Unlock()
		return nil
	}
	c.state = StateInitializing
	c.failReason = ""
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.initialize(ctx, epoch, members); err != nil {
		c.failIfCurrent(epoch, err.Error())
		return err
	}
	return nil
}

func (c *Controller) initialize(ctx context.Context, epoch int, members []models.GroupMember) error {
	if err := c.keys.Initialize(ctx, c.identity.UserID); err != nil {
		if !errors.Is(err, keystore.ErrPublishFailed) {
			return fmt.Errorf("failed to initialize key store: %w", err)
		}
		// Key pair exists in memory; registration can be retried later.
		c.log.WithError(err).Warn("public key publish failed, continuing")
	}

	publicKey, err := c.keys.PublicKey()
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, m := range members {
		c.roster[m.UserID] = m
	}
	c.roster[c.identity.UserID] = models.GroupMember{
		UserID:    c.identity.UserID,
		PublicKey: publicKey,
		JoinedAt:  time.Now().UTC(),
	}
	roster := c.rosterLocked()
	c.mu.Unlock()

	if c.manager.GetGroupKey(c.groupID) == nil {
		if err := c.establishGroupKey(ctx, roster, len(members) > 0); err != nil {
			return err
		}
	}
	if !c.stillCurrent(epoch) {
		return context.Canceled
	}
	if c.manager.GetGroupKey(c.groupID) == nil {
		return fmt.Errorf("no usable group key for meeting %s", c.groupID)
	}

	sub, err := c.tp.Subscribe(ctx, c.groupID)
	if err != nil {
		return fmt.Errorf("failed to join meeting channel: %w", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		sub.Close()
		return context.Canceled
	}
	if c.sub != nil {
		c.sub.Close()
	}
	c.sub = sub
	c.state = StateReady
	c.loopDone = make(chan struct{})
	c.mu.Unlock()

	go c.run(sub, c.loopDone)

	// Announce ourselves so existing members fold us into the next rotation.
	joinEvent := transport.Event{
		Kind:    transport.EventMemberJoined,
		GroupID: c.groupID,
		Membership: &transport.MembershipChange{
			UserID:      c.identity.UserID,
			DisplayName: c.identity.DisplayName,
			PublicKey:   publicKey,
		},
	}
	if err := c.tp.Publish(ctx, c.groupID, joinEvent); err != nil {
		c.log.WithError(err).Warn("failed to announce join")
	}

	c.log.Info("encryption ready")
	return nil
}

// establishGroupKey implements the entry decision: originate the group
// when a roster is known, otherwise fetch an existing wrapped copy and
// join. A lost creation race falls back to fetch + join.
func (c *Controller) establishGroupKey(ctx context.Context, roster []models.GroupMember, originate bool) error {
	if originate {
		err := c.manager.CreateGroup(ctx, c.groupID, roster)
		if err == nil {
			return nil
		}
		if !errors.Is(err, distribution.ErrVersionConflict) && !errors.Is(err, groupkey.ErrGroupKeyExists) {
			return err
		}
		c.log.Info("group already originated elsewhere, joining instead")
	}
	return c.fetchAndJoin(ctx)
}

func (c *Controller) fetchAndJoin(ctx context.Context) error {
	bundle, err := c.manager.FetchGroupKey(ctx, c.groupID)
	if err != nil {
		return fmt.Errorf("failed to fetch group key: %w", err)
	}
	if bundle == nil {
		return fmt.Errorf("no group key published for meeting %s", c.groupID)
	}
	return c.manager.JoinGroup(c.groupID, bundle.WrappedKey, bundle.WrapperPublicKey, bundle.KeyVersion)
}

// Send encrypts content under the current group key and emits it. Rejected
// with ErrNotReady unless encryption is ready and the channel is joined.
func (c *Controller) Send(ctx context.Context, content string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	ready := c.state == StateReady && c.sub != nil
	c.mu.Unlock()
	if !ready {
		return ErrNotReady
	}

	info := c.manager.GetGroupKey(c.groupID)
	if info == nil {
		return ErrNotReady
	}

	payload, err := crypto.EncryptMessage([]byte(content), info.Key, c.groupID, info.KeyVersion)
	if err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}

	envelope := models.EncryptedMessageEnvelope{
		ID:                uuid.New().String(),
		SenderUserID:      c.identity.UserID,
		SenderDisplayName: c.identity.DisplayName,
		EncryptedContent:  payload,
		Timestamp:         time.Now().UTC(),
		GroupID:           c.groupID,
		KeyVersion:        info.KeyVersion,
	}

	event := transport.Event{
		Kind:    transport.EventChatMessage,
		GroupID: c.groupID,
		Message: &envelope,
	}
	if err := c.tp.Publish(ctx, c.groupID, event); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// State returns the encryption readiness and failure reason, if any.
func (c *Controller) State() (EncryptionState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.failReason
}

// Connected reports whether the meeting channel is joined.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

// Messages returns a copy of the bounded message history.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Close leaves the meeting channel. The key cache survives for re-entry;
// logout erasure is the key store's and manager's Clear.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.epoch++
	sub := c.sub
	c.sub = nil
	done := c.loopDone
	c.loopDone = nil
	c.state = StateUninitialized
	c.mu.Unlock()

	if sub == nil {
		return nil
	}

	leave := transport.Event{
		Kind:    transport.EventMemberLeft,
		GroupID: c.groupID,
		Membership: &transport.MembershipChange{
			UserID:      c.identity.UserID,
			DisplayName: c.identity.DisplayName,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.tp.Publish(ctx, c.groupID, leave); err != nil {
		c.log.WithError(err).Warn("failed to announce leave")
	}

	err := sub.Close()
	if done != nil {
		<-done
	}
	return err
}

// run consumes transport events until the subscription closes. Event
// handling converts every failure into a state update or message marker;
// nothing propagates out of the loop.
func (c *Controller) run(sub transport.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.Events() {
		c.handleEvent(ev)
	}
	c.log.Debug("meeting channel closed")
}

func (c *Controller) handleEvent(ev transport.Event) {
	if ev.GroupID != c.groupID {
		return
	}
	switch ev.Kind {
	case transport.EventChatMessage:
		c.handleChatMessage(*ev.Message)
	case transport.EventMemberJoined:
		c.handleMemberJoined(*ev.Membership)
	case transport.EventMemberLeft:
		c.handleMemberLeft(*ev.Membership)
	case transport.EventKeyRotated:
		c.handleKeyRotated(*ev.Rotation)
	}
}

func (c *Controller) handleChatMessage(envelope models.EncryptedMessageEnvelope) {
	msg := Message{
		ID:          envelope.ID,
		UserID:      envelope.SenderUserID,
		DisplayName: envelope.SenderDisplayName,
		Timestamp:   envelope.Timestamp,
	}

	key := c.keyForVersion(envelope.KeyVersion)
	if key == nil {
		msg.Content = placeholderKeyUnavailable
		msg.DecryptionError = "encryption key not available"
		c.appendMessage(msg)
		return
	}

	plaintext, err := crypto.DecryptMessage(envelope.EncryptedContent, key, c.groupID, envelope.KeyVersion)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"message_id":  envelope.ID,
			"key_version": envelope.KeyVersion,
		}).WithError(err).Warn("failed to decrypt message")
		msg.Content = placeholderDecryptFailed
		msg.DecryptionError = err.Error()
		c.appendMessage(msg)
		return
	}

	msg.Content = string(plaintext)
	msg.Decrypted = true
	c.appendMessage(msg)
}

// keyForVersion resolves the group key matching a message's version. A
// version newer than the cache usually means a rotation notice has not
// arrived yet; one re-fetch recovers it. A version older than the cache
// is unrecoverable here since old versions are not retained.
func (c *Controller) keyForVersion(version int) []byte {
	info := c.manager.GetGroupKey(c.groupID)
	if info != nil && info.KeyVersion == version {
		return info.Key
	}
	if info != nil && info.KeyVersion > version {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.fetchAndJoin(ctx); err != nil {
		c.log.WithError(err).Debug("key re-fetch failed")
		return nil
	}
	info = c.manager.GetGroupKey(c.groupID)
	if info != nil && info.KeyVersion == version {
		return info.Key
	}
	return nil
}

func (c *Controller) handleMemberJoined(change transport.MembershipChange) {
	if change.UserID == c.identity.UserID {
		return
	}
	// A member without a key can never be wrapped for. Admitting one to
	// the roster would make every later rotation fail, so the event is
	// dropped before any state changes.
	if change.PublicKey == "" {
		c.log.WithField("user_id", change.UserID).Warn("ignoring join without public key")
		return
	}

	c.mu.Lock()
	existing, known := c.roster[change.UserID]
	c.roster[change.UserID] = models.GroupMember{
		UserID:    change.UserID,
		PublicKey: change.PublicKey,
		JoinedAt:  time.Now().UTC(),
	}
	roster := c.rosterLocked()
	c.mu.Unlock()

	c.appendSystemMessage(fmt.Sprintf("%s joined the meeting", displayName(change)))

	// A returning member re-announcing the key we already wrapped for is
	// not a membership change; only genuine roster changes rotate.
	if known && existing.PublicKey == change.PublicKey {
		return
	}
	c.rotateForRoster(roster)
}

func (c *Controller) handleMemberLeft(change transport.MembershipChange) {
	if change.UserID == c.identity.UserID {
		return
	}

	c.mu.Lock()
	delete(c.roster, change.UserID)
	roster := c.rosterLocked()
	c.mu.Unlock()

	c.appendSystemMessage(fmt.Sprintf("%s left the meeting", displayName(change)))
	c.rotateForRoster(roster)
}

func (c *Controller) handleKeyRotated(notice transport.KeyRotationNotice) {
	if notice.RotatedBy == c.identity.UserID {
		return
	}
	info := c.manager.GetGroupKey(c.groupID)
	if info != nil && info.KeyVersion >= notice.KeyVersion {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.fetchAndJoin(ctx); err != nil {
		c.log.WithError(err).Warn("failed to pick up rotated group key")
	}
}

// rotateForRoster rotates the group key for a changed membership set.
// Every member reacts to the same membership event; the optimistic version
// check plus the service's create-once-per-version rule elect exactly one
// winner, and losers pick up the winner's key instead. Sends are blocked
// until the rotation completes so nothing goes out under the stale key.
func (c *Controller) rotateForRoster(roster []models.GroupMember) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.manager.RotateGroupKey(ctx, c.groupID, roster)
	switch {
	case err == nil:
		info := c.manager.GetGroupKey(c.groupID)
		notice := transport.Event{
			Kind:    transport.EventKeyRotated,
			GroupID: c.groupID,
			Rotation: &transport.KeyRotationNotice{
				KeyVersion: info.KeyVersion,
				RotatedBy:  c.identity.UserID,
			},
		}
		if err := c.tp.Publish(ctx, c.groupID, notice); err != nil {
			c.log.WithError(err).Warn("failed to broadcast rotation notice")
		}
	case errors.Is(err, distribution.ErrVersionConflict), errors.Is(err, groupkey.ErrStaleRotation):
		if err := c.fetchAndJoin(ctx); err != nil {
			c.log.WithError(err).Warn("failed to adopt concurrent rotation")
		}
	default:
		c.log.WithError(err).Error("group key rotation failed")
		c.mu.Lock()
		c.state = StateFailed
		c.failReason = fmt.Sprintf("key rotation failed: %v", err)
		c.mu.Unlock()
	}
}

func (c *Controller) appendMessage(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	if len(c.messages) > c.maxMessages {
		c.messages = c.messages[len(c.messages)-c.maxMessages:]
	}
}

func (c *Controller) appendSystemMessage(content string) {
	c.appendMessage(Message{
		ID:        uuid.New().String(),
		UserID:    "system",
		Content:   content,
		Timestamp: time.Now().UTC(),
		System:    true,
		Decrypted: true,
	})
}

func (c *Controller) rosterLocked() []models.GroupMember {
	roster := make([]models.GroupMember, 0, len(c.roster))
	for _, m := range c.roster {
		roster = append(roster, m)
	}
	return roster
}

func (c *Controller) stillCurrent(epoch int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

func (c *Controller) failIfCurrent(epoch int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	c.state = StateFailed
	c.failReason = reason
}

func displayName(change transport.MembershipChange) string {
	if change.DisplayName != "" {
		return change.DisplayName
	}
	return change.UserID
}
