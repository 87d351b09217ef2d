package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/diewo77/go-esign/internal/db"
	"github.com/diewo77/go-esign/internal/models"
	"github.com/diewo77/go-esign/internal/notify"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder keeps every notification; fail, when set, decides which fail.
type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail func(notify.Message) error
}

func (r *recorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(msg); err != nil {
			return err
		}
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) byKind(kind notify.Kind) []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Message
	for _, m := range r.msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

var errDeliveryDown = errors.New("smtp unavailable")

type testEnv struct {
	db      *gorm.DB
	clock   *testClock
	notes   *recorder
	tokens  *TokenManager
	docs    *DocumentService
	orch    *Orchestrator
	sweeper *Sweeper
}

const testReminderInterval = 72 * time.Hour

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "esign.db"), false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(conn))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})

	clock := &testClock{now: baseTime}
	settings := Settings{
		TokenTTL:         30 * 24 * time.Hour,
		ReminderInterval: testReminderInterval,
		PublicBaseURL:    "https://sign.example.test",
		Clock:            clock.Now,
	}
	log := zap.NewNop()
	notes := &recorder{}
	tokens := NewTokenManager(conn, "test-secret", clock.Now)
	return &testEnv{
		db:      conn,
		clock:   clock,
		notes:   notes,
		tokens:  tokens,
		docs:    NewDocumentService(conn, log),
		orch:    NewOrchestrator(conn, tokens, notes, log, settings),
		sweeper: NewSweeper(conn, tokens, log, settings),
	}
}

// twoSignerInput is a two-page policy with one required signature per signer.
func twoSignerInput(expiresAt *time.Time) CreateRequestInput {
	return CreateRequestInput{
		Document:  DocumentInput{Title: "Auto policy 2026", PageCount: 2},
		Title:     "Please sign your auto policy",
		CreatedBy: "agent@broker.test",
		ExpiresAt: expiresAt,
		Signers: []SignerInput{
			{Name: "Alice Martin", Email: "alice@example.com", Phone: "+33600000001"},
			{Name: "Bob Martin", Email: "Bob@Example.com", Role: models.SignerRoleBeneficiary},
		},
		Fields: []FieldInput{
			{PageNumber: 1, FieldType: models.FieldTypeSignature, X: 60, Y: 700, IsRequired: true, SignerIndex: ptr(0)},
			{PageNumber: 2, FieldType: models.FieldTypeSignature, X: 60, Y: 700, IsRequired: true, SignerIndex: ptr(1)},
		},
	}
}

func (e *testEnv) createAndSend(t *testing.T, in CreateRequestInput) (*models.SignatureRequest, map[string]Invitation) {
	t.Helper()
	ctx := context.Background()
	req, err := e.orch.CreateRequest(ctx, in)
	require.NoError(t, err)
	invs, err := e.orch.SendRequest(ctx, req.ID, []string{"email"})
	require.NoError(t, err)
	byEmail := map[string]Invitation{}
	for _, inv := range invs {
		byEmail[inv.Signer.Email] = inv
	}
	return req, byEmail
}

func (e *testEnv) signer(t *testing.T, id string) models.Signer {
	t.Helper()
	var s models.Signer
	require.NoError(t, e.db.First(&s, "id = ?", id).Error)
	return s
}

func (e *testEnv) request(t *testing.T, id string) models.SignatureRequest {
	t.Helper()
	var r models.SignatureRequest
	require.NoError(t, e.db.First(&r, "id = ?", id).Error)
	return r
}

func (e *testEnv) document(t *testing.T, id string) models.Document {
	t.Helper()
	var d models.Document
	require.NoError(t, e.db.First(&d, "id = ?", id).Error)
	return d
}

func (e *testEnv) countEvents(t *testing.T, requestID string, typ models.EventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.DocumentEvent{}).
		Where("signature_request_id = ? AND event_type = ?", requestID, typ).
		Count(&n).Error)
	return n
}

// fieldsFor returns the field IDs assigned to signerID.
func (e *testEnv) fieldsFor(t *testing.T, documentID, signerID string) []string {
	t.Helper()
	var ids []string
	require.NoError(t, e.db.Model(&models.SignatureField{}).
		Where("document_id = ? AND assigned_signer_id = ?", documentID, signerID).
		Order("page_number ASC").
		Pluck("id", &ids).Error)
	return ids
}

const testSignature = "data:image/png;base64,iVBORw0KGgo="
