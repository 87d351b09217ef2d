package services

import (
	"context"
	"testing"
	"time"

	"github.com/diewo77/go-esign/internal/models"
	"github.com/diewo77/go-esign/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReminderEligible(t *testing.T) {
	now := baseTime
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }
	tests := []struct {
		name       string
		status     models.SignerStatus
		remindedAt *time.Time
		want       bool
	}{
		{"never reminded", models.SignerStatusSent, nil, true},
		{"pending", models.SignerStatusPending, nil, true},
		{"opened uses same interval", models.SignerStatusOpened, at(-testReminderInterval), true},
		{"inside interval", models.SignerStatusSent, at(-(testReminderInterval - time.Second)), false},
		{"past interval", models.SignerStatusSent, at(-(testReminderInterval + time.Second)), true},
		{"signed", models.SignerStatusSigned, nil, false},
		{"expired", models.SignerStatusExpired, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &models.Signer{Status: tt.status, RemindedAt: tt.remindedAt}
			assert.Equal(t, tt.want, IsReminderEligible(s, now, testReminderInterval))
		})
	}
}

func TestSendRemindersPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req, _ := env.createAndSend(t, twoSignerInput(nil))
	alice, bob := req.Signers[0], req.Signers[1]

	env.notes.fail = func(m notify.Message) error {
		if m.Kind == notify.KindReminder && m.SignerID == bob.ID {
			return errDeliveryDown
		}
		return nil
	}
	report, err := env.orch.SendReminders(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{alice.ID}, report.Reminded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, bob.ID, report.Failed[0].SignerID)

	assert.NotNil(t, env.signer(t, alice.ID).RemindedAt)
	assert.Nil(t, env.signer(t, bob.ID).RemindedAt)
	assert.EqualValues(t, 1, env.countEvents(t, req.ID, models.EventReminded))

	// The undelivered link was revoked; the invitation token still works.
	var live int64
	require.NoError(t, env.db.Model(&models.AccessToken{}).
		Where("signer_id = ? AND invalidated_at IS NULL", bob.ID).Count(&live).Error)
	assert.EqualValues(t, 1, live)

	// Alice is gated by the interval, Bob is retried.
	env.notes.fail = nil
	eligible, err := env.orch.RemindEligibleSigners(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, bob.ID, eligible[0].ID)

	env.clock.Advance(testReminderInterval - time.Second)
	report, err = env.orch.SendReminders(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob.ID}, report.Reminded)

	env.clock.Advance(2 * time.Second)
	eligible, err = env.orch.RemindEligibleSigners(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, alice.ID, eligible[0].ID)
}

func TestRemindersSkipSignedAndDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	draft, err := env.orch.CreateRequest(ctx, twoSignerInput(nil))
	require.NoError(t, err)
	eligible, err := env.orch.RemindEligibleSigners(ctx, draft.ID)
	require.NoError(t, err)
	assert.Empty(t, eligible)

	in := twoSignerInput(nil)
	in.Document.Title = "Second policy"
	req, _ := env.createAndSend(t, in)
	_, err = env.orch.SubmitSignature(ctx, req.Signers[0].ID, nil, testSignature, ClientInfo{})
	require.NoError(t, err)

	report, err := env.orch.SendReminders(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{req.Signers[1].ID}, report.Reminded)
	reminders := env.notes.byKind(notify.KindReminder)
	require.Len(t, reminders, 1)
	assert.NotEmpty(t, reminders[0].Link)

	_, err = env.orch.RemindEligibleSigners(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
