package service

import (
	"context"
	"time"

	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type activityService struct {
	repo ports.ActivityRepository
	log  zerolog.Logger
}

// NewActivityService creates a new activity service.
// If repo is nil, entries are only written to the logger.
func NewActivityService(repo ports.ActivityRepository, log zerolog.Logger) ports.ActivityService {
	return &activityService{repo: repo, log: log}
}

// Record stores a timeline entry asynchronously (fire-and-forget).
func (s *activityService) Record(ctx context.Context, entry *domain.ActivityEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	go func() {
		s.log.Info().
			Str("action", string(entry.Action)).
			Str("resource_type", entry.ResourceType).
			Str("resource_id", entry.ResourceID).
			Msg("activity")

		if s.repo != nil {
			if err := s.repo.Record(context.Background(), entry); err != nil {
				s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist activity entry")
			}
		}
	}()
}

// Timeline returns the most recent entries for an entity.
func (s *activityService) Timeline(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]domain.ActivityEntry, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListByEntity(ctx, entityType, entityID, limit)
}
