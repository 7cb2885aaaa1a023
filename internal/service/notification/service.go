package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/telehealth-api/internal/email"
	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	"github.com/jwalitptl/telehealth-api/internal/service/access"
	"github.com/jwalitptl/telehealth-api/internal/sms"
	"github.com/jwalitptl/telehealth-api/internal/worker"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
)

// Sender delivers a notification over one channel
type Sender interface {
	Send(ctx context.Context, n *model.Notification) error
}

type EmailSender struct {
	svc email.Service
}

func NewEmailSender(svc email.Service) *EmailSender {
	return &EmailSender{svc: svc}
}

func (s *EmailSender) Send(ctx context.Context, n *model.Notification) error {
	return s.svc.SendCustom(ctx, n.Recipient, n.Subject, n.Content)
}

type SMSSender struct {
	client sms.Sender
}

func NewSMSSender(client sms.Sender) *SMSSender {
	return &SMSSender{client: client}
}

func (s *SMSSender) Send(ctx context.Context, n *model.Notification) error {
	return s.client.Send(ctx, n.Recipient, n.Subject+": "+n.Content)
}

type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Lease keeps a notification away from the retry loop while it is being sent
	Lease time.Duration
}

type Service struct {
	repo     repository.NotificationRepository
	patients repository.PatientRepository
	access   *access.Resolver
	senders  map[model.NotificationChannel]Sender
	opts     Options
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(
	repo repository.NotificationRepository,
	patients repository.PatientRepository,
	senders map[model.NotificationChannel]Sender,
	opts Options,
	m *metrics.Metrics,
) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = time.Hour
	}
	if opts.Lease <= 0 {
		opts.Lease = time.Minute
	}
	return &Service{
		repo:     repo,
		patients: patients,
		access:   access.NewResolver(patients),
		senders:  senders,
		opts:     opts,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent turns a patient facing outbox event into one notification per
// reachable channel and attempts delivery. It is safe to call again for the
// same event; channels already notified are skipped. Delivery failures are
// left to the retry loop and never fail the event.
func (s *Service) HandleEvent(ctx context.Context, evt *model.OutboxEvent) error {
	msg, ok, err := render(evt)
	if err != nil || !ok {
		return err
	}

	patient, err := s.patients.Get(ctx, evt.PatientID)
	if err != nil {
		return fmt.Errorf("failed to load patient for notification: %w", err)
	}

	for _, n := range s.plan(evt, patient, msg) {
		if err := s.repo.Create(ctx, n); err != nil {
			if errors.Is(err, errors.CodeConflict) {
				continue
			}
			return fmt.Errorf("failed to create notification: %w", err)
		}
		s.deliver(ctx, n)
	}
	return nil
}

func (s *Service) plan(evt *model.OutboxEvent, patient *model.Patient, msg message) []*model.Notification {
	recipients := map[model.NotificationChannel]string{model.ChannelEmail: patient.Email}
	if patient.Phone != nil && *patient.Phone != "" {
		recipients[model.ChannelSMS] = *patient.Phone
	}

	now := s.now()
	lease := now.Add(s.opts.Lease)
	var out []*model.Notification
	for _, channel := range []model.NotificationChannel{model.ChannelEmail, model.ChannelSMS} {
		to, ok := recipients[channel]
		if !ok || to == "" || s.senders[channel] == nil {
			continue
		}
		out = append(out, &model.Notification{
			ID:          uuid.New(),
			PatientID:   patient.ID,
			EventID:     evt.ID,
			Channel:     channel,
			Recipient:   to,
			Subject:     msg.Subject,
			Content:     msg.Body,
			Status:      model.NotificationStatusRetrying,
			NextRetryAt: &lease,
		})
	}
	return out
}

// deliver makes one attempt and records the outcome
func (s *Service) deliver(ctx context.Context, n *model.Notification) {
	sender := s.senders[n.Channel]
	var err error
	if sender == nil {
		err = fmt.Errorf("no sender for channel %s", n.Channel)
	} else {
		err = sender.Send(ctx, n)
	}

	now := s.now()
	if err == nil {
		n.Status = model.NotificationStatusSent
		n.SentAt = &now
		n.NextRetryAt = nil
		n.LastError = nil
		s.metrics.NotificationsSent.WithLabelValues(string(n.Channel)).Inc()
	} else {
		n.RetryCount++
		msg := err.Error()
		n.LastError = &msg
		if n.RetryCount >= s.opts.MaxAttempts {
			n.Status = model.NotificationStatusFailed
			n.NextRetryAt = nil
		} else {
			next := now.Add(worker.Backoff(n.RetryCount, s.opts.InitialBackoff, s.opts.MaxBackoff))
			n.Status = model.NotificationStatusRetrying
			n.NextRetryAt = &next
		}
		s.metrics.NotificationsFailed.WithLabelValues(string(n.Channel)).Inc()
		log.Warn().Err(err).
			Str("notification_id", n.ID.String()).
			Str("channel", string(n.Channel)).
			Int("attempt", n.RetryCount).
			Str("status", string(n.Status)).
			Msg("notification delivery failed")
	}

	if err := s.repo.Update(ctx, n); err != nil {
		log.Error().Err(err).Str("notification_id", n.ID.String()).Msg("failed to record notification outcome")
	}
}

// RetryDue re-attempts notifications whose backoff has elapsed
func (s *Service) RetryDue(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ClaimDue(ctx, limit, s.opts.Lease)
	if err != nil {
		return 0, err
	}
	for _, n := range due {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.deliver(ctx, n)
	}
	return len(due), nil
}

func (s *Service) ListMine(ctx context.Context, actor model.Principal, p model.Pagination) ([]*model.Notification, int, error) {
	patient, err := s.access.PatientFor(ctx, actor)
	if err != nil {
		return nil, 0, err
	}
	p.Normalize()
	return s.repo.ListByPatient(ctx, patient.ID, p)
}
