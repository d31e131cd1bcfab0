package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/opencurate/releasehub/internal/domain"
	"github.com/opencurate/releasehub/internal/infra/database/models"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Start(ctx context.Context, ev domain.AuditEvent) (int64, error) {
	record := models.AuditEvent{
		WhoSubjectID:   ev.WhoSubjectID,
		WhoDisplayName: ev.WhoDisplayName,
		OccurredAt:     ev.OccurredAt,
		Category:       string(ev.Category),
		Description:    ev.Description,
		Outcome:        int(ev.Outcome),
		Details:        ev.Details,
		ReleaseKey:     ev.ReleaseKey,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return 0, err
	}
	return record.ID, nil
}

func (r *AuditRepository) Complete(ctx context.Context, id int64, outcome domain.AuditOutcome, details string, duration *time.Duration) error {
	updates := map[string]any{
		"outcome": int(outcome),
		"details": details,
	}
	if duration != nil {
		millis := duration.Milliseconds()
		updates["duration_millis"] = millis
	}

	result := r.db.WithContext(ctx).
		Model(&models.AuditEvent{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "audit event"}
	}
	return nil
}

func (r *AuditRepository) ListForRelease(ctx context.Context, releaseKey string, limit, offset int) ([]domain.AuditEvent, int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.AuditEvent{}).
		Where("release_key = ?", releaseKey).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var records []models.AuditEvent
	err = r.db.WithContext(ctx).
		Where("release_key = ?", releaseKey).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	events := make([]domain.AuditEvent, 0, len(records))
	for _, record := range records {
		ev := domain.AuditEvent{
			ID:             record.ID,
			WhoSubjectID:   record.WhoSubjectID,
			WhoDisplayName: record.WhoDisplayName,
			OccurredAt:     record.OccurredAt,
			Category:       domain.AuditCategory(record.Category),
			Description:    record.Description,
			Outcome:        domain.AuditOutcome(record.Outcome),
			Details:        record.Details,
			ReleaseKey:     record.ReleaseKey,
		}
		if record.DurationMillis != nil {
			d := time.Duration(*record.DurationMillis) * time.Millisecond
			ev.Duration = &d
		}
		events = append(events, ev)
	}
	return events, int(total), nil
}
