// Package auth carries the identity of request senders (the staff members who
// prepare and dispatch signature requests) in an HMAC-signed cookie.
// Signers never use it: they authenticate with their access token.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/go-esign/httpx"
)

type ctxKey string

const (
	sessionCookieName = "esign_session"
	senderCtxKey      = ctxKey("senderID")

	// SessionTTL is how long a sender session stays valid.
	SessionTTL = 12 * time.Hour
)

// SenderVerifier optionally checks that a session's sender is still allowed.
type SenderVerifier func(ctx context.Context, senderID string) bool

var verifier SenderVerifier

// SetSenderVerifier configures the global verifier used by RequireSender.
func SetSenderVerifier(v SenderVerifier) { verifier = v }

// Secret returns SESSION_SECRET or default dev value.
func Secret() string {
	if s := os.Getenv("SESSION_SECRET"); s != "" {
		return s
	}
	return "devsessionsecret"
}

func sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(Secret()))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// SessionValue encodes senderID and its expiry into a signed cookie value.
func SessionValue(senderID string, expires time.Time) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(senderID)) + "." + strconv.FormatInt(expires.Unix(), 10)
	return payload + "." + sign(payload)
}

// ClearSession deletes the session cookie.
func ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", Expires: time.Unix(0, 0), HttpOnly: true, SameSite: http.SameSiteLaxMode})
}

// ParseSession validates the cookie and returns the sender id.
func ParseSession(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return parseValue(c.Value, time.Now())
}

func parseValue(value string, now time.Time) (string, bool) {
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return "", false
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(sign(payload))) {
		return "", false
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || now.Unix() > exp {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

// WithSenderID stores the sender id in context.
func WithSenderID(ctx context.Context, senderID string) context.Context {
	return context.WithValue(ctx, senderCtxKey, senderID)
}

// SenderIDFromContext extracts the sender id.
func SenderIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(senderCtxKey).(string)
	return id, ok && id != ""
}

// Middleware attaches the sender id to the request context if present.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := ParseSession(r); ok {
			r = r.WithContext(WithSenderID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSender returns 401 JSON unless a verified sender is attached.
func RequireSender(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := SenderIDFromContext(r.Context())
		if !ok {
			httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		if verifier != nil && !verifier(r.Context(), id) {
			ClearSession(w)
			httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
