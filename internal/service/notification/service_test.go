package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository/mocks"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*model.Notification
	err  error
}

func (r *recordingSender) Send(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *mocks.NotificationRepository
	patients *mocks.PatientRepository
	email    *recordingSender
	sms      *recordingSender
	patient  *model.Patient
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	phone := "+15551234567"
	f := &fixture{
		repo:     new(mocks.NotificationRepository),
		patients: new(mocks.PatientRepository),
		email:    &recordingSender{},
		sms:      &recordingSender{},
		patient: &model.Patient{
			Base:  model.Base{ID: uuid.New()},
			Email: "pat@example.com",
			Phone: &phone,
		},
		now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.patients.On("Get", mock.Anything, f.patient.ID).Return(f.patient, nil).Maybe()

	f.svc = NewService(f.repo, f.patients, map[model.NotificationChannel]Sender{
		model.ChannelEmail: f.email,
		model.ChannelSMS:   f.sms,
	}, Options{MaxAttempts: 3, InitialBackoff: time.Minute, MaxBackoff: 10 * time.Minute, Lease: time.Minute}, metrics.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) event(t *testing.T, eventType string, payload interface{}) *model.OutboxEvent {
	t.Helper()
	evt, err := model.NewOutboxEvent(eventType, uuid.New(), f.patient.ID, payload)
	require.NoError(t, err)
	return evt
}

func TestHandleEventNotifiesEveryChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	evt := f.event(t, model.EventConsultationReviewed, map[string]string{"status": "reviewed"})

	f.repo.On("Create", ctx, mock.MatchedBy(func(n *model.Notification) bool {
		return n.EventID == evt.ID && n.Status == model.NotificationStatusRetrying && n.NextRetryAt != nil
	})).Return(nil).Twice()
	f.repo.On("Update", ctx, mock.MatchedBy(func(n *model.Notification) bool {
		return n.Status == model.NotificationStatusSent && n.SentAt != nil && n.NextRetryAt == nil
	})).Return(nil).Twice()

	require.NoError(t, f.svc.HandleEvent(ctx, evt))

	require.Len(t, f.email.sent, 1)
	require.Len(t, f.sms.sent, 1)
	assert.Equal(t, "pat@example.com", f.email.sent[0].Recipient)
	assert.Equal(t, "+15551234567", f.sms.sent[0].Recipient)
	assert.Contains(t, f.email.sent[0].Subject, "reviewed")
	f.repo.AssertExpectations(t)
}

func TestHandleEventSkipsChannelsAlreadyNotified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	evt := f.event(t, model.EventRefillConfirmed, map[string]string{})

	f.repo.On("Create", ctx, mock.MatchedBy(func(n *model.Notification) bool {
		return n.Channel == model.ChannelEmail
	})).Return(errors.Conflict("notification already exists for event", nil))
	f.repo.On("Create", ctx, mock.MatchedBy(func(n *model.Notification) bool {
		return n.Channel == model.ChannelSMS
	})).Return(nil)
	f.repo.On("Update", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.svc.HandleEvent(ctx, evt))
	assert.Empty(t, f.email.sent)
	assert.Len(t, f.sms.sent, 1)
}

func TestHandleEventWithoutPhoneSendsEmailOnly(t *testing.T) {
	f := newFixture(t)
	f.patient.Phone = nil
	ctx := context.Background()
	evt := f.event(t, model.EventConsultationCreated, map[string]string{})

	f.repo.On("Create", ctx, mock.Anything).Return(nil).Once()
	f.repo.On("Update", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.svc.HandleEvent(ctx, evt))
	assert.Len(t, f.email.sent, 1)
	assert.Empty(t, f.sms.sent)
	f.repo.AssertExpectations(t)
}

func TestHandleEventIgnoresInternalEvents(t *testing.T) {
	f := newFixture(t)
	evt := f.event(t, model.EventConsultationAssigned, map[string]string{})

	require.NoError(t, f.svc.HandleEvent(context.Background(), evt))
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.patients.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestHandleEventRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	evt := f.event(t, model.EventOrderStatusChanged, map[string]string{})
	evt.Payload = []byte("{not json")

	err := f.svc.HandleEvent(context.Background(), evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), model.EventOrderStatusChanged)
}

func TestShippedOrderMessageCarriesTracking(t *testing.T) {
	f := newFixture(t)
	f.patient.Phone = nil
	ctx := context.Background()
	evt := f.event(t, model.EventOrderStatusChanged, map[string]interface{}{
		"status":      model.OrderStatusShipped,
		"tracking_id": "1Z999",
	})

	f.repo.On("Create", ctx, mock.Anything).Return(nil)
	f.repo.On("Update", ctx, mock.Anything).Return(nil)

	require.NoError(t, f.svc.HandleEvent(ctx, evt))
	require.Len(t, f.email.sent, 1)
	assert.Contains(t, f.email.sent[0].Content, "1Z999")
}

func TestDeliveryFailureSchedulesRetryWithBackoff(t *testing.T) {
	f := newFixture(t)
	f.patient.Phone = nil
	f.email.err = fmt.Errorf("smtp unavailable")
	ctx := context.Background()
	evt := f.event(t, model.EventConsultationCreated, map[string]string{})

	f.repo.On("Create", ctx, mock.Anything).Return(nil)
	f.repo.On("Update", ctx, mock.MatchedBy(func(n *model.Notification) bool {
		return n.Status == model.NotificationStatusRetrying &&
			n.RetryCount == 1 &&
			n.LastError != nil && *n.LastError == "smtp unavailable" &&
			n.NextRetryAt != nil && n.NextRetryAt.Equal(f.now.Add(time.Minute))
	})).Return(nil).Once()

	require.NoError(t, f.svc.HandleEvent(ctx, evt))
	f.repo.AssertExpectations(t)
}

func TestRetryDueMarksFailedAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.email.err = fmt.Errorf("mailbox full")
	ctx := context.Background()

	n := &model.Notification{ID: uuid.New(), Channel: model.ChannelEmail, Recipient: "pat@example.com", RetryCount: 2, Status: model.NotificationStatusRetrying}
	f.repo.On("ClaimDue", ctx, 10, time.Minute).Return([]*model.Notification{n}, nil)
	f.repo.On("Update", ctx, mock.MatchedBy(func(n *model.Notification) bool {
		return n.Status == model.NotificationStatusFailed && n.RetryCount == 3 && n.NextRetryAt == nil
	})).Return(nil).Once()

	count, err := f.svc.RetryDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	f.repo.AssertExpectations(t)
}

func TestRetryDueSendsRecoveredNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := &model.Notification{ID: uuid.New(), Channel: model.ChannelSMS, Recipient: "+15551234567", RetryCount: 1, Status: model.NotificationStatusRetrying}
	f.repo.On("ClaimDue", ctx, 5, time.Minute).Return([]*model.Notification{n}, nil)
	f.repo.On("Update", ctx, mock.Anything).Return(nil)

	count, err := f.svc.RetryDue(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, model.NotificationStatusSent, n.Status)
	assert.Nil(t, n.LastError)
	assert.Len(t, f.sms.sent, 1)
}

func TestListMineScopesToCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := model.Principal{UserID: uuid.New(), Role: model.RolePatient}
	f.patient.UserID = actor.UserID
	f.patients.On("GetByUserID", ctx, actor.UserID).Return(f.patient, nil)
	f.repo.On("ListByPatient", ctx, f.patient.ID, model.Pagination{Page: 1, PageSize: model.DefaultPageSize}).
		Return([]*model.Notification{{ID: uuid.New()}}, 1, nil)

	items, total, err := f.svc.ListMine(ctx, actor, model.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, items, 1)
}

func TestListMineForbiddenForProviders(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.ListMine(context.Background(), model.Principal{UserID: uuid.New(), Role: model.RoleProvider}, model.Pagination{})
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}
