package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sasha-gershtein/Sodia/cmd/identity"
	"github.com/sasha-gershtein/Sodia/cmd/identity/ids"
	"github.com/sasha-gershtein/Sodia/cmd/security/token"
)

// maxUpdateMessageBytes bounds a single update record.
const maxUpdateMessageBytes = 64 << 10

// Service implements the session lifecycle over a Store.
//
// Every read goes to the store; there is no in-process cache, so a
// revocation on one instance is visible to all others immediately.
type Service struct {
	cfg    Config
	store  Store
	hasher token.Hasher
}

// NewService constructs a Service. Zero or out-of-range config values fall
// back to DefaultConfig.
func NewService(cfg Config, store Store, hasher token.Hasher) *Service {
	def := DefaultConfig()
	if cfg.TTL <= 0 || cfg.TTL > maxTTL {
		cfg.TTL = def.TTL
	}
	if cfg.TokenBytes < token.MinBytes || cfg.TokenBytes > token.MaxBytes {
		cfg.TokenBytes = def.TokenBytes
	}
	return &Service{cfg: cfg, store: store, hasher: hasher}
}

// TTL returns the sliding session lifetime.
func (s *Service) TTL() time.Duration { return s.cfg.TTL }

// GenerateToken returns a fresh URL-safe bearer token. Uniqueness is
// enforced by the store's constraint on the token hash, not by retrying here.
func (s *Service) GenerateToken() (string, error) {
	return token.New(s.cfg.TokenBytes)
}

// HashToken returns the persisted form of tok.
func (s *Service) HashToken(tok string) string {
	return s.hasher.Hash(tok)
}

// Issue creates a session for userID. The returned value carries the
// plaintext token; callers hand it to the client and drop it.
func (s *Service) Issue(ctx context.Context, now time.Time, userID, ip string) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, fmt.Errorf("session: issue: empty user id")
	}
	now = normalizeTime(now)

	tok, err := s.GenerateToken()
	if err != nil {
		return Session{}, fmt.Errorf("session: issue: %w", err)
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, fmt.Errorf("session: issue: %w", err)
	}

	sess := Session{
		ID:             id,
		UserID:         userID,
		TokenHash:      s.hasher.Hash(tok),
		LastActivityIP: strings.TrimSpace(ip),
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.cfg.TTL),
		CreatedAt:      now,
		NextUpdateSeq:  0,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}

	sess.Token = tok
	return sess, nil
}

// Resolve finds the session behind tok. Malformed tokens are reported as
// ErrSessionNotFound without touching the store.
func (s *Service) Resolve(ctx context.Context, tok string) (Session, error) {
	if !token.WellFormed(tok) {
		return Session{}, ErrSessionNotFound
	}
	return s.store.GetByTokenHash(ctx, s.hasher.Hash(tok))
}

// ResolveWithOwner is Resolve that also loads the owning user in the same
// store round trip.
func (s *Service) ResolveWithOwner(ctx context.Context, tok string) (Session, identity.User, error) {
	if !token.WellFormed(tok) {
		return Session{}, identity.User{}, ErrSessionNotFound
	}
	return s.store.GetWithOwnerByTokenHash(ctx, s.hasher.Hash(tok))
}

// Touch records activity from ip and slides expiry to now+TTL.
// It refuses to revive a session that has already expired.
func (s *Service) Touch(ctx context.Context, now time.Time, sess Session, ip string) (Session, error) {
	now = normalizeTime(now)
	if !sess.IsValid(now) {
		return Session{}, ErrSessionExpired
	}
	return s.store.Touch(ctx, sess.ID, strings.TrimSpace(ip), now, now.Add(s.cfg.TTL))
}

// AppendUpdate appends message to the session's update log and returns the
// stored record with its sequence number.
func (s *Service) AppendUpdate(ctx context.Context, now time.Time, sess Session, message string) (UpdateRecord, error) {
	if len(message) > maxUpdateMessageBytes {
		return UpdateRecord{}, fmt.Errorf("session: %w: limit %d bytes", ErrMessageTooLarge, maxUpdateMessageBytes)
	}
	return s.store.AppendUpdate(ctx, sess.ID, message, normalizeTime(now))
}

// Updates lists the session's update records in sequence order.
func (s *Service) Updates(ctx context.Context, sess Session) ([]UpdateRecord, error) {
	return s.store.ListUpdates(ctx, sess.ID)
}

// Revoke deletes the session and its update records.
func (s *Service) Revoke(ctx context.Context, sess Session) error {
	return s.store.Delete(ctx, sess.ID)
}

// RevokeAll deletes every session of userID (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return s.store.DeleteByUser(ctx, strings.TrimSpace(userID))
}

// CleanupExpired deletes sessions that expired at or before now.
func (s *Service) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.store.DeleteExpired(ctx, normalizeTime(now))
}

// normalizeTime matches the microsecond precision of both backends so that
// values handed back to callers compare equal to what a later read returns.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}
