package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
)

const (
	// BucketName is the JetStream KV bucket holding session state.
	BucketName = "LEAD_SESSIONS"

	sessionPrefix   = "sess."
	tombstonePrefix = "gone."
)

// NATSKV is the shared-store backend: session state lives in a JetStream
// Key-Value bucket so any instance can serve any session. Atomicity per
// call comes from KV put/delete; cross-call consistency comes from the
// façade's per-session lock, which is valid only within one instance.
// Multi-instance deployments route a session to a single instance
// (sticky sessions) or accept last-writer-wins on concurrent turns.
type NATSKV struct {
	kv jetstream.KeyValue
}

// NewNATSKV binds to (or creates) the session bucket.
func NewNATSKV(ctx context.Context, js jetstream.JetStream, ttl time.Duration) (*NATSKV, error) {
	kv, err := js.KeyValue(ctx, BucketName)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketName,
			Description: "Lead qualification session state",
			TTL:         ttl,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session bucket: %w", err)
	}
	return &NATSKV{kv: kv}, nil
}

func sessionKey(id string) string   { return sessionPrefix + id }
func tombstoneKey(id string) string { return tombstonePrefix + id }

func (s *NATSKV) load(ctx context.Context, sessionID string) (*model.Session, error) {
	entry, err := s.kv.Get(ctx, sessionKey(sessionID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(entry.Value(), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

func (s *NATSKV) save(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if _, err := s.kv.Put(ctx, sessionKey(sess.ID), data); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (s *NATSKV) tombstoned(ctx context.Context, sessionID string) bool {
	_, err := s.kv.Get(ctx, tombstoneKey(sessionID))
	return err == nil
}

func (s *NATSKV) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.load(ctx, sessionID)
}

func (s *NATSKV) CreateOrGet(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.load(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	sess = NewSession(sessionID)
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	s.kv.Delete(ctx, tombstoneKey(sessionID))
	return sess, nil
}

func (s *NATSKV) AppendMessage(ctx context.Context, sessionID string, role model.Role, content string) (*model.Session, error) {
	if s.tombstoned(ctx, sessionID) {
		return nil, ErrNotFound
	}

	sess, err := s.load(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		sess = NewSession(sessionID)
	} else if err != nil {
		return nil, err
	}

	sess.Messages = append(sess.Messages, model.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	sess.UpdatedAt = time.Now()

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *NATSKV) Put(ctx context.Context, sess *model.Session) error {
	sess.UpdatedAt = time.Now()
	return s.save(ctx, sess)
}

func (s *NATSKV) Clear(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, sessionKey(sessionID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if _, err := s.kv.Put(ctx, tombstoneKey(sessionID), []byte(time.Now().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("failed to tombstone session: %w", err)
	}
	return nil
}

func (s *NATSKV) Forget(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, tombstoneKey(sessionID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to drop tombstone: %w", err)
	}
	return nil
}

func (s *NATSKV) ListActive(ctx context.Context) ([]*model.Session, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, sess := range all {
		if sess.Status == model.StatusActive {
			active = append(active, sess)
		}
	}
	return active, nil
}

func (s *NATSKV) List(ctx context.Context) ([]*model.Session, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var out []*model.Session
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, sessionPrefix) {
			continue
		}
		sess, err := s.load(ctx, strings.TrimPrefix(key, sessionPrefix))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *NATSKV) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sess := range all {
		if sess.Status == model.StatusActive {
			continue
		}
		if sess.UpdatedAt.Before(olderThan) {
			if err := s.kv.Delete(ctx, sessionKey(sess.ID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
				return removed, fmt.Errorf("failed to sweep session: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}
