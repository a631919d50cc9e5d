package announce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"talkstage/backend/internal/models"
)

var (
	ErrNotFound   = errors.New("announce: request not found")
	ErrNotPending = errors.New("announce: request is not pending")
)

// Storage persists announcement requests and published announcements.
type Storage interface {
	CreateRequest(ctx context.Context, req *models.AnnouncementRequest) error
	PendingRequests(ctx context.Context) ([]models.AnnouncementRequest, error)
	RequestByID(ctx context.Context, id uint) (*models.AnnouncementRequest, error)

	// Approve flips a pending request to approved and publishes the
	// announcement in one transaction.
	Approve(ctx context.Context, id uint, admin string, expiresAt time.Time) (*models.Announcement, error)
	Reject(ctx context.Context, id uint, admin, reason string) error

	// Active returns the live announcement with the latest expiry, or nil.
	Active(ctx context.Context, now time.Time) (*models.Announcement, error)
	// SweepExpired marks announcements whose expiry has passed.
	SweepExpired(ctx context.Context, now time.Time) error
}

// GormStorage implements Storage on Postgres.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage migrates the announcement tables and returns the storage.
func NewGormStorage(db *gorm.DB) (*GormStorage, error) {
	if err := db.AutoMigrate(&models.AnnouncementRequest{}, &models.Announcement{}); err != nil {
		return nil, fmt.Errorf("migrating announcement tables: %w", err)
	}
	return &GormStorage{db: db}, nil
}

func (s *GormStorage) CreateRequest(ctx context.Context, req *models.AnnouncementRequest) error {
	return s.db.WithContext(ctx).Create(req).Error
}

func (s *GormStorage) PendingRequests(ctx context.Context) ([]models.AnnouncementRequest, error) {
	var reqs []models.AnnouncementRequest
	err := s.db.WithContext(ctx).
		Where("status = ?", models.RequestPending).
		Order("created_at asc").
		Find(&reqs).Error
	return reqs, err
}

func (s *GormStorage) RequestByID(ctx context.Context, id uint) (*models.AnnouncementRequest, error) {
	var req models.AnnouncementRequest
	err := s.db.WithContext(ctx).First(&req, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *GormStorage) Approve(ctx context.Context, id uint, admin string, expiresAt time.Time) (*models.Announcement, error) {
	var published models.Announcement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.AnnouncementRequest
		if err := tx.First(&req, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if req.Status != models.RequestPending {
			return ErrNotPending
		}

		now := time.Now()
		req.Status = models.RequestApproved
		req.ApprovedAt = &now
		req.ApprovedBy = admin
		if err := tx.Save(&req).Error; err != nil {
			return err
		}

		published = models.Announcement{
			Message:    req.Message,
			ExpiresAt:  expiresAt,
			ApprovedBy: admin,
			RequestID:  req.ID,
		}
		return tx.Create(&published).Error
	})
	if err != nil {
		return nil, err
	}
	return &published, nil
}

func (s *GormStorage) Reject(ctx context.Context, id uint, admin, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.AnnouncementRequest
		if err := tx.First(&req, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if req.Status != models.RequestPending {
			return ErrNotPending
		}
		now := time.Now()
		req.Status = models.RequestRejected
		req.RejectedAt = &now
		req.RejectedBy = admin
		req.RejectionReason = reason
		return tx.Save(&req).Error
	})
}

func (s *GormStorage) Active(ctx context.Context, now time.Time) (*models.Announcement, error) {
	var a models.Announcement
	err := s.db.WithContext(ctx).
		Where("expired = ? AND expires_at > ?", false, now).
		Order("expires_at desc").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *GormStorage) SweepExpired(ctx context.Context, now time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Announcement{}).
		Where("expired = ? AND expires_at <= ?", false, now).
		Updates(map[string]any{"expired": true, "expired_at": now}).Error
}
