// Package announce runs the paid global-announcement side channel: users
// submit banner requests, an admin verifies the off-platform payment and
// approves or rejects, and the live banner is broadcast to every client
// until it expires.
package announce

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"talkstage/backend/internal/config"
	"talkstage/backend/internal/models"
)

var (
	ErrEmptyMessage = errors.New("announce: empty message")
	ErrTooLong      = errors.New("announce: message too long")
)

// Notifier pushes announcement workflow events to the admin. Implemented by
// the telegram bot; a nil-safe no-op is used when no bot is configured.
type Notifier interface {
	NotifyRequest(req models.AnnouncementRequest) error
	NotifyPublished(a models.Announcement) error
}

// Service is the announcement workflow.
type Service struct {
	storage  Storage
	notifier Notifier
	cfg      *config.Config
	log      zerolog.Logger
}

// NewService creates the announcement service. notifier may be nil.
func NewService(storage Storage, notifier Notifier, cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{
		storage:  storage,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "announce").Logger(),
	}
}

// Submit files a pending announcement request and pings the admin. The
// request carries the price and duration quoted at submission time, so a
// later price change never affects requests already in flight.
func (s *Service) Submit(ctx context.Context, requesterID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrEmptyMessage
	}
	if len([]rune(message)) > s.cfg.AnnouncementMaxLen {
		return ErrTooLong
	}

	req := &models.AnnouncementRequest{
		RequesterID:     requesterID,
		Message:         message,
		Status:          models.RequestPending,
		PaymentAmount:   s.cfg.AnnouncementPrice,
		DurationMinutes: int(s.cfg.AnnouncementDuration.Minutes()),
	}
	if err := s.storage.CreateRequest(ctx, req); err != nil {
		return err
	}
	s.log.Info().Uint("request", req.ID).Str("requester", requesterID).Msg("announcement requested")

	if s.notifier != nil {
		if err := s.notifier.NotifyRequest(*req); err != nil {
			s.log.Warn().Err(err).Msg("admin notification failed")
		}
	}
	return nil
}

// Pending lists requests awaiting a decision, oldest first.
func (s *Service) Pending(ctx context.Context) ([]models.AnnouncementRequest, error) {
	return s.storage.PendingRequests(ctx)
}

// Approve publishes the request as a live announcement. The clock starts at
// approval, not submission.
func (s *Service) Approve(ctx context.Context, requestID uint, admin string) (*models.Announcement, error) {
	expiresAt := time.Now().Add(s.cfg.AnnouncementDuration)
	a, err := s.storage.Approve(ctx, requestID, admin, expiresAt)
	if err != nil {
		return nil, err
	}
	s.log.Info().Uint("request", requestID).Uint("announcement", a.ID).
		Time("expiresAt", a.ExpiresAt).Msg("announcement published")

	if s.notifier != nil {
		if err := s.notifier.NotifyPublished(*a); err != nil {
			s.log.Warn().Err(err).Msg("publish notification failed")
		}
	}
	return a, nil
}

// Reject declines the request with a reason shown to the requester.
func (s *Service) Reject(ctx context.Context, requestID uint, admin, reason string) error {
	if err := s.storage.Reject(ctx, requestID, admin, reason); err != nil {
		return err
	}
	s.log.Info().Uint("request", requestID).Str("reason", reason).Msg("announcement rejected")
	return nil
}

// Active returns the banner clients should display right now, or nil. The
// expiry sweep rides on the read, so lapsed banners get marked without a
// separate job.
func (s *Service) Active(ctx context.Context) (*models.AnnouncementView, error) {
	now := time.Now()
	if err := s.storage.SweepExpired(ctx, now); err != nil {
		s.log.Warn().Err(err).Msg("expiry sweep failed")
	}
	a, err := s.storage.Active(ctx, now)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, nil
	}
	return &models.AnnouncementView{
		ID:        a.ID,
		Message:   a.Message,
		ExpiresAt: a.ExpiresAt,
	}, nil
}
