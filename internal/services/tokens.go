package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/diewo77/go-esign/internal/models"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

const tokenBytes = 32

// TokenManager issues and resolves signer access tokens. A token is 256 bits
// from crypto/rand; the store only sees a keyed BLAKE2b digest of it, so a
// leaked table cannot be replayed as links.
type TokenManager struct {
	db    *gorm.DB
	key   []byte
	clock Clock
}

// NewTokenManager keys the token digest with secret.
func NewTokenManager(db *gorm.DB, secret string, clock Clock) *TokenManager {
	key := blake2b.Sum256([]byte(secret))
	if clock == nil {
		clock = SystemClock
	}
	return &TokenManager{db: db, key: key[:], clock: clock}
}

// Digest returns the hex keyed digest stored for token.
func (m *TokenManager) Digest(token string) string {
	h, err := blake2b.New256(m.key)
	if err != nil {
		// Only fails for keys longer than 64 bytes; ours is 32.
		panic(err)
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates a new token for the signer. Earlier tokens stay valid until
// they expire or Invalidate is called. The token never outlives the signer's
// own deadline; ttl <= 0 means only that deadline applies.
func (m *TokenManager) Issue(ctx context.Context, signerID string, ttl time.Duration) (string, error) {
	var token string
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var signer models.Signer
		if err := tx.First(&signer, "id = ?", signerID).Error; err != nil {
			return notFound(err)
		}
		var err error
		token, err = m.issueTx(tx, &signer, ttl)
		return err
	})
	return token, err
}

func (m *TokenManager) issueTx(tx *gorm.DB, signer *models.Signer, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	var expires *time.Time
	if ttl > 0 {
		expires = ptr(m.clock().UTC().Add(ttl))
	}
	if signer.ExpiresAt != nil && (expires == nil || signer.ExpiresAt.Before(*expires)) {
		expires = ptr(*signer.ExpiresAt)
	}
	rec := models.AccessToken{SignerID: signer.ID, Digest: m.Digest(token), ExpiresAt: expires}
	if err := tx.Create(&rec).Error; err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Resolution is the signer behind a token. AlreadySigned marks a view-only
// resolution: the signer may see the document but not submit again.
type Resolution struct {
	Signer        models.Signer
	AlreadySigned bool
}

// Resolve maps a token to its signer without side effects.
// Unknown tokens fail with ErrTokenNotFound. A token whose signer is expired
// or past the deadline fails with ErrTokenExpired, also after the sweep has
// invalidated it, so the answer does not change when the sweep runs. Other
// invalidated tokens fail with ErrTokenNotFound, and tokens past their own
// expiry with ErrTokenExpired. A signed signer resolves view-only even after
// the deadline, since the sweep never expires a signed signer.
func (m *TokenManager) Resolve(ctx context.Context, token string) (*Resolution, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}
	db := m.db.WithContext(ctx)
	var rec models.AccessToken
	if err := db.First(&rec, "digest = ?", m.Digest(token)).Error; err != nil {
		if notFound(err) == ErrNotFound {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	var signer models.Signer
	if err := db.First(&signer, "id = ?", rec.SignerID).Error; err != nil {
		if notFound(err) == ErrNotFound {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	now := m.clock().UTC()
	if !signer.IsSigned() && (signer.Status == models.SignerStatusExpired || signer.IsExpiredAt(now)) {
		return nil, ErrTokenExpired
	}
	if rec.InvalidatedAt != nil {
		return nil, ErrTokenNotFound
	}
	if signer.IsSigned() {
		return &Resolution{Signer: signer, AlreadySigned: true}, nil
	}
	if !rec.Usable(now) {
		return nil, ErrTokenExpired
	}
	return &Resolution{Signer: signer}, nil
}

// Invalidate revokes every live token of the signer. Token rows are kept.
func (m *TokenManager) Invalidate(ctx context.Context, signerID string) error {
	return m.invalidateTx(m.db.WithContext(ctx), signerID)
}

func (m *TokenManager) invalidateTx(tx *gorm.DB, signerID string) error {
	return tx.Model(&models.AccessToken{}).
		Where("signer_id = ? AND invalidated_at IS NULL", signerID).
		Update("invalidated_at", m.clock().UTC()).Error
}

// revoke invalidates a single token, used when its delivery failed.
func (m *TokenManager) revoke(ctx context.Context, token string) error {
	return m.db.WithContext(ctx).Model(&models.AccessToken{}).
		Where("digest = ? AND invalidated_at IS NULL", m.Digest(token)).
		Update("invalidated_at", m.clock().UTC()).Error
}
