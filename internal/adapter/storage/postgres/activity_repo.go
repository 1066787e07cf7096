package postgres

import (
	"context"
	"fmt"

	"crm-billing-engine/internal/core/domain"

	"github.com/google/uuid"
)

// ActivityRepo implements ports.ActivityRepository.
type ActivityRepo struct {
	pool Pool
}

// NewActivityRepo creates a new ActivityRepo.
func NewActivityRepo(pool Pool) *ActivityRepo {
	return &ActivityRepo{pool: pool}
}

// Record appends one timeline entry.
func (r *ActivityRepo) Record(ctx context.Context, e *domain.ActivityEntry) error {
	query := `INSERT INTO activity_log (id, action, resource_type, resource_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, string(e.Action), e.ResourceType, e.ResourceID, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity entry: %w", err)
	}
	return nil
}

// ListByEntity returns the most recent entries for one entity.
func (r *ActivityRepo) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]domain.ActivityEntry, error) {
	if limit < 1 {
		limit = 50
	}
	query := `SELECT id, action, resource_type, resource_id, detail, created_at
		FROM activity_log WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at DESC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, entityType, entityID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list activity entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		var action string
		if err := rows.Scan(&e.ID, &action, &e.ResourceType, &e.ResourceID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity entry: %w", err)
		}
		e.Action = domain.ActivityAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
