// Package session tracks per-conversation state: a bounded rolling
// message window, the last active domain, and at most one pending
// interactive action, keyed by (scope, user, channel) with lazy TTL
// expiry.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// MaxMessages bounds the rolling window (10 exchanges).
	MaxMessages = 20

	// maxAssistantChars truncates stored assistant turns so verbose
	// tool-execution narratives cannot grow history without bound.
	maxAssistantChars = 500

	DefaultTTLMinutes = 30
	DefaultScope      = "default"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PendingAction is a deferred tool invocation awaiting one value chosen
// by the user out of band (e.g. a chat button).
type PendingAction struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	FieldName string         `json:"field_name"`
}

type Session struct {
	UserID        string         `json:"user_id"`
	ChannelID     string         `json:"channel_id"`
	Scope         string         `json:"session_scope"`
	Domain        string         `json:"domain"`
	Messages      []Message      `json:"messages"`
	PendingAction *PendingAction `json:"pending_action,omitempty"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

// Key identifies one session record.
type Key struct {
	Scope     string
	UserID    string
	ChannelID string
}

func NewKey(userID, channelID, scope string) Key {
	if scope == "" {
		scope = DefaultScope
	}
	return Key{Scope: scope, UserID: userID, ChannelID: channelID}
}

// String is the storage-safe form of the key.
func (k Key) String() string {
	s := fmt.Sprintf("%s_%s_%s", k.Scope, k.UserID, k.ChannelID)
	return strings.ReplaceAll(s, "/", "_")
}

// Repository persists whole session records. Load returns (nil, nil)
// for absent or unreadable records; corruption self-heals by discard.
type Repository interface {
	Load(key Key) (*Session, error)
	Save(key Key, s *Session) error
}

// Store owns TTL and windowing semantics over a Repository and
// serializes access per key.
type Store struct {
	repo  Repository
	locks sync.Map // Key.String() -> *sync.Mutex
	now   func() time.Time
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

func (s *Store) lock(key Key) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(key.String(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Store) empty(key Key) *Session {
	now := s.now().Format(time.RFC3339)
	return &Session{
		UserID:    key.UserID,
		ChannelID: key.ChannelID,
		Scope:     key.Scope,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Store) expired(sess *Session, ttlMinutes int) bool {
	updated, err := time.Parse(time.RFC3339, sess.UpdatedAt)
	if err != nil {
		return true
	}
	return s.now().Sub(updated) > time.Duration(ttlMinutes)*time.Minute
}

// load reads the session applying TTL; caller must hold the key lock.
func (s *Store) load(key Key, ttlMinutes int) *Session {
	sess, err := s.repo.Load(key)
	if err != nil || sess == nil || s.expired(sess, ttlMinutes) {
		return s.empty(key)
	}
	sess.Scope = key.Scope
	return sess
}

// Get loads a session, returning a fresh empty one when expired, absent
// or unreadable.
func (s *Store) Get(userID, channelID string, ttlMinutes int, scope string) *Session {
	key := NewKey(userID, channelID, scope)
	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()
	return s.load(key, ttlMinutes)
}

// Update appends one user/assistant exchange, trims the window, stamps
// the domain and persists.
func (s *Store) Update(userID, channelID, domain, userMsg, assistantMsg string, ttlMinutes int, scope string) error {
	key := NewKey(userID, channelID, scope)
	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	sess := s.load(key, ttlMinutes)
	sess.Domain = domain
	sess.Messages = append(sess.Messages,
		Message{Role: "user", Content: userMsg},
		Message{Role: "assistant", Content: truncateChars(assistantMsg, maxAssistantChars)},
	)
	if len(sess.Messages) > MaxMessages {
		sess.Messages = sess.Messages[len(sess.Messages)-MaxMessages:]
	}
	sess.UpdatedAt = s.now().Format(time.RFC3339)

	if err := s.repo.Save(key, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SetPendingAction stores the single pending-action slot, silently
// overwriting any previous one.
func (s *Store) SetPendingAction(userID, channelID string, action *PendingAction, ttlMinutes int, scope string) error {
	key := NewKey(userID, channelID, scope)
	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	sess := s.load(key, ttlMinutes)
	sess.PendingAction = action
	sess.UpdatedAt = s.now().Format(time.RFC3339)

	if err := s.repo.Save(key, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetAndClearPendingAction pops the pending action: read, clear,
// persist, all under the key lock. Returns nil when none is set.
func (s *Store) GetAndClearPendingAction(userID, channelID string, ttlMinutes int, scope string) (*PendingAction, error) {
	key := NewKey(userID, channelID, scope)
	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	sess := s.load(key, ttlMinutes)
	action := sess.PendingAction
	if action == nil {
		return nil, nil
	}
	sess.PendingAction = nil
	sess.UpdatedAt = s.now().Format(time.RFC3339)
	if err := s.repo.Save(key, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return action, nil
}

// Clear resets the session to empty unconditionally.
func (s *Store) Clear(userID, channelID, scope string) error {
	key := NewKey(userID, channelID, scope)
	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if err := s.repo.Save(key, s.empty(key)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SetNow overrides the clock (for tests).
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

func truncateChars(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
