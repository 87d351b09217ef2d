package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/diewo77/go-esign/internal/models"
	"github.com/diewo77/go-esign/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEndTwoSigners(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.orch.CreateRequest(ctx, twoSignerInput(nil))
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusDraft, req.Status)
	require.Len(t, req.Signers, 2)
	assert.Equal(t, "bob@example.com", req.Signers[1].Email)
	assert.Equal(t, models.DocumentStatusDraft, env.document(t, req.DocumentID).Status)

	invs, err := env.orch.SendRequest(ctx, req.ID, []string{"email", "email", "sms"})
	require.NoError(t, err)
	require.Len(t, invs, 2)
	assert.Len(t, env.notes.byKind(notify.KindInvitation), 4)
	assert.Equal(t, models.RequestStatusSent, env.request(t, req.ID).Status)
	assert.Equal(t, models.DocumentStatusPendingSignature, env.document(t, req.DocumentID).Status)

	tokens := map[string]string{}
	for _, inv := range invs {
		assert.Equal(t, models.SignerStatusSent, inv.Signer.Status)
		assert.Contains(t, inv.Link, "https://sign.example.test/sign/")
		tokens[inv.Signer.Email] = inv.Token
	}
	alice, bob := req.Signers[0], req.Signers[1]

	env.clock.Advance(time.Hour)
	opened, err := env.orch.OpenSigner(ctx, tokens[alice.Email], ClientInfo{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, models.SignerStatusOpened, opened.Signer.Status)
	assert.Equal(t, models.RequestStatusInProgress, env.request(t, req.ID).Status)

	// Opening twice records one event.
	_, err = env.orch.OpenSigner(ctx, tokens[alice.Email], ClientInfo{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, env.countEvents(t, req.ID, models.EventOpened))

	env.clock.Advance(time.Minute)
	res, err := env.orch.SubmitSignature(ctx, alice.ID, nil, testSignature, ClientInfo{IP: "10.0.0.1", UserAgent: "Firefox"})
	require.NoError(t, err)
	assert.False(t, res.RequestCompleted)
	assert.Equal(t, models.SignerStatusSigned, res.Signer.Status)
	require.NotNil(t, res.Signer.SignedAt)
	assert.Contains(t, string(res.Signer.Metadata), "Firefox")
	assert.Equal(t, models.RequestStatusInProgress, env.request(t, req.ID).Status)
	doc := env.document(t, req.DocumentID)
	assert.Equal(t, models.DocumentStatusInProgress, doc.Status)
	assert.Equal(t, 1, doc.CompletedSigners)
	assert.Equal(t, 2, doc.TotalSigners)

	// Bob signs straight from the link; the open is recorded first.
	res, err = env.orch.SubmitSignature(ctx, bob.ID, nil, testSignature, ClientInfo{})
	require.NoError(t, err)
	assert.True(t, res.RequestCompleted)
	assert.NotNil(t, res.Signer.OpenedAt)
	assert.EqualValues(t, 2, env.countEvents(t, req.ID, models.EventOpened))

	final := env.request(t, req.ID)
	assert.Equal(t, models.RequestStatusCompleted, final.Status)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, models.DocumentStatusCompleted, env.document(t, req.DocumentID).Status)
	assert.EqualValues(t, 1, env.countEvents(t, req.ID, models.EventCompleted))
	assert.Len(t, env.notes.byKind(notify.KindCompleted), 1)

	details, err := env.orch.GetRequestWithDetails(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, details.Signers, 2)
	require.Len(t, details.Fields, 2)
	for _, f := range details.Fields {
		require.NotNil(t, f.Value)
		assert.Equal(t, testSignature, *f.Value)
	}

	events, err := env.orch.ListEvents(ctx, req.ID)
	require.NoError(t, err)
	var types []models.EventType
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []models.EventType{
		models.EventCreated, models.EventSent, models.EventOpened, models.EventSigned,
		models.EventOpened, models.EventSigned, models.EventCompleted,
	}, types)

	// A replayed link resolves view-only and cannot sign again.
	again, err := env.orch.ResolveSigner(ctx, tokens[alice.Email])
	require.NoError(t, err)
	assert.True(t, again.AlreadySigned)
	_, err = env.orch.SubmitSignature(ctx, alice.ID, nil, testSignature, ClientInfo{})
	assert.ErrorIs(t, err, ErrAlreadySigned)
	assert.Equal(t, KindSecurity, KindOf(err))
}

func TestConcurrentCompletionWritesOneCompletedEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req, _ := env.createAndSend(t, twoSignerInput(nil))

	var wg sync.WaitGroup
	results := make([]*SubmitResult, len(req.Signers))
	errs := make([]error, len(req.Signers))
	start := make(chan struct{})
	for i, s := range req.Signers {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			<-start
			results[i], errs[i] = env.orch.SubmitSignature(ctx, id, nil, testSignature, ClientInfo{})
		}(i, s.ID)
	}
	close(start)
	wg.Wait()

	completed := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].RequestCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.EqualValues(t, 1, env.countEvents(t, req.ID, models.EventCompleted))
	assert.Equal(t, models.RequestStatusCompleted, env.request(t, req.ID).Status)
	assert.Len(t, env.notes.byKind(notify.KindCompleted), 1)
}

func TestCreateRequestIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	in := twoSignerInput(nil)
	in.Fields[1].PageNumber = 3

	_, err := env.orch.CreateRequest(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidPage)
	assert.Equal(t, KindValidation, KindOf(err))

	for _, m := range []any{&models.Document{}, &models.SignatureRequest{}, &models.Signer{}, &models.SignatureField{}, &models.DocumentEvent{}} {
		var n int64
		require.NoError(t, env.db.Model(m).Count(&n).Error)
		assert.Zero(t, n, "%T", m)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	in := twoSignerInput(nil)
	in.Fields = nil
	_, err := env.orch.CreateRequest(ctx, in)
	assert.ErrorIs(t, err, ErrNoFieldsDefined)

	in = twoSignerInput(nil)
	in.Signers[1].Email = "not-an-email"
	_, err = env.orch.CreateRequest(ctx, in)
	var se *SignerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Index)
	assert.ErrorIs(t, err, ErrInvalidSigner)

	in = twoSignerInput(nil)
	in.Signers[1].Email = "ALICE@example.com"
	_, err = env.orch.CreateRequest(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidSigner)

	in = twoSignerInput(nil)
	in.Signers = nil
	_, err = env.orch.CreateRequest(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidSigner)

	past := baseTime.Add(-time.Minute)
	_, err = env.orch.CreateRequest(ctx, twoSignerInput(&past))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	in = twoSignerInput(nil)
	in.Fields[0].FieldType = "stamp"
	_, err = env.orch.CreateRequest(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidField)
	assert.ErrorContains(t, err, "fields[0].field_type=invalid_choice")

	in = twoSignerInput(nil)
	in.Fields[0].X = -1
	in.Fields[1].SignerIndex = ptr(2)
	_, err = env.orch.CreateRequest(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidField)
	assert.ErrorContains(t, err, "fields[0].x=must_not_be_negative")
	assert.ErrorContains(t, err, "fields[1].signer_index=out_of_range")

	in = twoSignerInput(nil)
	in.Signers[0].Role = "notary"
	_, err = env.orch.CreateRequest(ctx, in)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "invalid_choice", se.Violations["role"])

	in = twoSignerInput(nil)
	in.Document.PageCount = 0
	_, err = env.orch.CreateRequest(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorContains(t, err, "document.page_count=must_be_positive")
}

func TestCreateRequestOverExistingDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tpl, err := env.docs.Create(ctx, CreateDocumentInput{Title: "Home policy", PageCount: 1, IsTemplate: true, CreatedBy: "agent"})
	require.NoError(t, err)
	_, err = env.docs.PlaceField(ctx, tpl.ID, PlaceFieldInput{PageNumber: 1, PointerX: 100, PointerY: 100, Zoom: 1, FieldType: models.FieldTypeSignature})
	require.NoError(t, err)

	in := CreateRequestInput{
		Document:  DocumentInput{ID: tpl.ID},
		Title:     "Home policy",
		CreatedBy: "agent",
		Signers:   []SignerInput{{Name: "Carol", Email: "carol@example.com"}},
	}
	_, err = env.orch.CreateRequest(ctx, in)
	require.ErrorIs(t, err, ErrInvalidDocument)

	doc, err := env.docs.CloneTemplate(ctx, tpl.ID, "", "agent")
	require.NoError(t, err)
	in.Document.ID = doc.ID
	req, err := env.orch.CreateRequest(ctx, in)
	require.NoError(t, err)

	// The only signer owns the cloned field.
	assert.Len(t, env.fieldsFor(t, doc.ID, req.Signers[0].ID), 1)

	_, err = env.orch.CreateRequest(ctx, in)
	assert.ErrorIs(t, err, ErrDocumentBusy)
}

func TestSendRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req, err := env.orch.CreateRequest(ctx, twoSignerInput(nil))
	require.NoError(t, err)

	_, err = env.orch.SendRequest(ctx, req.ID, []string{" "})
	assert.ErrorIs(t, err, ErrNoChannels)
	assert.Equal(t, models.RequestStatusDraft, env.request(t, req.ID).Status)

	invs, err := env.orch.SendRequest(ctx, req.ID, []string{"email"})
	require.NoError(t, err)
	assert.Len(t, invs, 2)

	invs, err = env.orch.SendRequest(ctx, req.ID, []string{"email"})
	require.NoError(t, err)
	assert.Empty(t, invs)
	assert.EqualValues(t, 1, env.countEvents(t, req.ID, models.EventSent))

	_, err = env.orch.SendRequest(ctx, "missing", []string{"email"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendRequestNeedsFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req, err := env.orch.CreateRequest(ctx, twoSignerInput(nil))
	require.NoError(t, err)

	var ids []string
	require.NoError(t, env.db.Model(&models.SignatureField{}).
		Where("document_id = ?", req.DocumentID).Order("page_number ASC").Pluck("id", &ids).Error)
	require.Len(t, ids, 2)

	require.NoError(t, env.docs.DeleteField(ctx, req.DocumentID, ids[0]))
	err = env.docs.DeleteField(ctx, req.DocumentID, ids[1])
	assert.ErrorIs(t, err, ErrNoFieldsDefined)
	assert.Equal(t, KindValidation, KindOf(err))

	// A layout emptied behind the service's back still cannot be sent.
	require.NoError(t, env.db.Where("document_id = ?", req.DocumentID).Delete(&models.SignatureField{}).Error)
	_, err = env.orch.SendRequest(ctx, req.ID, []string{"email"})
	assert.ErrorIs(t, err, ErrNoFieldsDefined)
	assert.Equal(t, models.RequestStatusDraft, env.request(t, req.ID).Status)
	assert.Zero(t, env.countEvents(t, req.ID, models.EventSent))
	assert.Empty(t, env.notes.byKind(notify.KindInvitation))
	for _, s := range req.Signers {
		assert.Equal(t, models.SignerStatusPending, env.signer(t, s.ID).Status)
	}
}

func TestCreateRequestOverExpiredDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	deadline := baseTime.Add(time.Hour)
	first, _ := env.createAndSend(t, twoSignerInput(&deadline))
	alice := first.Signers[0]
	_, err := env.orch.SubmitSignature(ctx, alice.ID, nil, testSignature, ClientInfo{})
	require.NoError(t, err)

	env.clock.Set(deadline.Add(time.Millisecond))
	_, err = env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusExpired, env.request(t, first.ID).Status)

	in := CreateRequestInput{
		Document:  DocumentInput{ID: first.DocumentID},
		Title:     "Auto policy, second round",
		CreatedBy: "agent@broker.test",
		Signers:   []SignerInput{{Name: "Carol Martin", Email: "carol@example.com"}},
	}
	second, err := env.orch.CreateRequest(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.DocumentID, second.DocumentID)
	carol := second.Signers[0]

	// The new document carries the blank layout, owned by the new signer.
	var fields []models.SignatureField
	require.NoError(t, env.db.Where("document_id = ?", second.DocumentID).Order("page_number ASC").Find(&fields).Error)
	require.Len(t, fields, 2)
	for _, f := range fields {
		assert.Nil(t, f.Value)
		assert.True(t, f.AssignedTo(carol.ID))
		assert.True(t, f.IsRequired)
	}

	invs, err := env.orch.SendRequest(ctx, second.ID, []string{"email"})
	require.NoError(t, err)
	require.Len(t, invs, 1)
	res, err := env.orch.SubmitSignature(ctx, carol.ID, nil, testSignature, ClientInfo{})
	require.NoError(t, err)
	assert.True(t, res.RequestCompleted)

	details, err := env.orch.GetRequestWithDetails(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusCompleted, details.Document.Status)
	for _, f := range details.Fields {
		require.NotNil(t, f.Value)
		assert.True(t, f.AssignedTo(carol.ID))
	}

	// The expired round is untouched.
	old := env.document(t, first.DocumentID)
	assert.Equal(t, models.DocumentStatusExpired, old.Status)
	require.NotNil(t, old.CurrentRequestID)
	assert.Equal(t, first.ID, *old.CurrentRequestID)
	assert.Len(t, env.fieldsFor(t, first.DocumentID, alice.ID), 1)

	_, err = env.orch.CreateRequest(ctx, CreateRequestInput{
		Document:  DocumentInput{ID: second.DocumentID},
		Title:     "Third round",
		CreatedBy: "agent@broker.test",
		Signers:   []SignerInput{{Name: "Dan", Email: "dan@example.com"}},
	})
	assert.ErrorIs(t, err, ErrDocumentBusy)
}

func TestSendRequestAfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	deadline := baseTime.Add(time.Hour)
	req, err := env.orch.CreateRequest(ctx, twoSignerInput(&deadline))
	require.NoError(t, err)

	env.clock.Set(deadline.Add(time.Second))
	_, err = env.orch.SendRequest(ctx, req.ID, []string{"email"})
	assert.ErrorIs(t, err, ErrDeadlinePassed)
}

func TestSubmitSignatureValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := twoSignerInput(nil)
	in.Fields = append(in.Fields,
		FieldInput{PageNumber: 1, FieldType: models.FieldTypeDate, X: 300, Y: 700, IsRequired: true, SignerIndex: ptr(0)},
		FieldInput{PageNumber: 1, FieldType: models.FieldTypeCheckbox, X: 300, Y: 500, SignerIndex: ptr(0)},
		FieldInput{PageNumber: 2, FieldType: models.FieldTypeText, X: 300, Y: 500},
	)
	req, _ := env.createAndSend(t, in)
	alice, bob := req.Signers[0], req.Signers[1]

	var date, checkbox, text string
	var fields []models.SignatureField
	require.NoError(t, env.db.Where("document_id = ?", req.DocumentID).Find(&fields).Error)
	var bobSig string
	for _, f := range fields {
		switch {
		case f.FieldType == models.FieldTypeDate:
			date = f.ID
		case f.FieldType == models.FieldTypeCheckbox:
			checkbox = f.ID
		case f.FieldType == models.FieldTypeText:
			text = f.ID
		case f.AssignedTo(bob.ID):
			bobSig = f.ID
		}
	}

	// No signature and no date.
	_, err := env.orch.SubmitSignature(ctx, alice.ID, nil, "", ClientInfo{})
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Len(t, missing.FieldIDs, 2)
	assert.ErrorIs(t, err, ErrMissingRequiredField)

	_, err = env.orch.SubmitSignature(ctx, alice.ID, map[string]string{date: "02/03/2026", checkbox: "maybe"}, testSignature, ClientInfo{})
	var fv *FieldValueError
	require.ErrorAs(t, err, &fv)
	assert.ElementsMatch(t, []string{checkbox, date}, fv.Violations.Fields())

	_, err = env.orch.SubmitSignature(ctx, alice.ID, map[string]string{date: "2026-03-02", bobSig: "x"}, testSignature, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidFieldValue)
	assert.Equal(t, models.SignerStatusSent, env.signer(t, alice.ID).Status)

	res, err := env.orch.SubmitSignature(ctx, alice.ID, map[string]string{date: "2026-03-02", checkbox: "true", text: "Policy 42"}, testSignature, ClientInfo{})
	require.NoError(t, err)
	assert.False(t, res.RequestCompleted)

	var filled models.SignatureField
	require.NoError(t, env.db.First(&filled, "id = ?", text).Error)
	require.NotNil(t, filled.Value)
	assert.Equal(t, "Policy 42", *filled.Value)

	// The shared field is first writer wins.
	_, err = env.orch.SubmitSignature(ctx, bob.ID, map[string]string{text: "Other"}, testSignature, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidFieldValue)
}

func TestSubmitBeforeSendIsRejected(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.orch.CreateRequest(context.Background(), twoSignerInput(nil))
	require.NoError(t, err)

	_, err = env.orch.SubmitSignature(context.Background(), req.Signers[0].ID, nil, testSignature, ClientInfo{})
	assert.ErrorIs(t, err, ErrNotSent)
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	deadline := baseTime.Add(48 * time.Hour)
	req, _ := env.createAndSend(t, twoSignerInput(&deadline))
	alice, bob := req.Signers[0], req.Signers[1]

	env.clock.Set(deadline.Add(-time.Millisecond))
	_, err := env.orch.SubmitSignature(ctx, alice.ID, nil, testSignature, ClientInfo{})
	require.NoError(t, err)

	env.clock.Set(deadline.Add(time.Millisecond))
	_, err = env.orch.SubmitSignature(ctx, bob.ID, nil, testSignature, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenExpired)

	n, err := env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n) // bob and the request

	assert.Equal(t, models.SignerStatusSigned, env.signer(t, alice.ID).Status)
	assert.Equal(t, models.SignerStatusExpired, env.signer(t, bob.ID).Status)
	assert.Equal(t, models.RequestStatusExpired, env.request(t, req.ID).Status)
	assert.Equal(t, models.DocumentStatusExpired, env.document(t, req.DocumentID).Status)

	n, err = env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var signerExpired int64
	require.NoError(t, env.db.Model(&models.DocumentEvent{}).
		Where("signer_id = ? AND event_type = ?", bob.ID, models.EventExpired).
		Count(&signerExpired).Error)
	assert.EqualValues(t, 1, signerExpired)
	assert.EqualValues(t, 2, env.countEvents(t, req.ID, models.EventExpired))

	// An expired request can never complete.
	_, err = env.orch.SubmitSignature(ctx, bob.ID, nil, testSignature, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Zero(t, env.countEvents(t, req.ID, models.EventCompleted))
}
