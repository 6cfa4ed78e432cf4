// Package journal persists every settled optimistic mutation so rollbacks can
// be audited after the toast is gone.
package journal

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"agencycrm/internal/apierr"
	"agencycrm/internal/events"
	"agencycrm/internal/models"
	"agencycrm/internal/utils"
	"agencycrm/internal/utils/logger"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Journal struct {
	db      *gorm.DB
	log     *logger.Logger
	timeout time.Duration
}

func New(db *gorm.DB) *Journal {
	return &Journal{db: db, log: logger.New("JOURNAL"), timeout: 5 * time.Second}
}

// Subscribe records every settled mutation published on bus.
func (j *Journal) Subscribe(bus *events.EventBus) {
	bus.On("*", j.handle)
}

func (j *Journal) handle(data interface{}) {
	s, ok := data.(events.Settled)
	if !ok {
		return
	}
	rec, err := Record(s)
	if err != nil {
		j.log.Warn("Skipping journal entry for %s %s: %v", s.Resource, s.EntityID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.Save(ctx, &rec); err != nil {
		j.log.Warn("Failed to journal %s %s: %v", s.Resource, s.EntityID, err)
	}
}

// Record builds the row for a settled mutation.
func Record(s events.Settled) (models.MutationRecord, error) {
	patch, err := utils.MapToJSON(s.Patch)
	if err != nil {
		return models.MutationRecord{}, fmt.Errorf("encode patch: %w", err)
	}
	rec := models.MutationRecord{
		Resource:  string(s.Resource),
		EntityID:  s.EntityID,
		Operation: s.Operation,
		Outcome:   s.Outcome,
		Role:      s.Role,
		Patch:     patch,
	}
	if s.Err != nil {
		rec.Message = s.Err.Error()
		rec.ErrorKind = string(apierr.KindOf(s.Err))
	}
	return rec, nil
}

func (j *Journal) Save(ctx context.Context, rec *models.MutationRecord) error {
	return j.db.WithContext(ctx).Create(rec).Error
}

// Query filters List. Zero values match everything.
type Query struct {
	Resource string
	EntityID string
	Outcome  models.MutationState
	Page     int
	Limit    int
}

// List returns matching entries, newest first, with the total match count.
func (j *Journal) List(ctx context.Context, q Query) ([]models.MutationRecord, int64, error) {
	var (
		records []models.MutationRecord
		total   int64
	)
	query := j.db.WithContext(ctx).Model(&models.MutationRecord{})
	for column, value := range q.filters() {
		query = query.Where(column+" = ?", value)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit := q.bounds()
	if err := query.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (q Query) filters() map[string]interface{} {
	out := make(map[string]interface{})
	if q.Resource != "" {
		out["resource"] = q.Resource
	}
	if q.EntityID != "" {
		out["entity_id"] = q.EntityID
	}
	if q.Outcome != "" {
		out["outcome"] = string(q.Outcome)
	}
	return out
}

func (q Query) bounds() (page, limit int) {
	page, limit = q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
