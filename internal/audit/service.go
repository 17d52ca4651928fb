/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit persists operator actions published on the event bus.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start records every OperatorAction until ctx is done or the bus closes.
func (s *Service) Start(ctx context.Context) {
	sub := s.bus.SubscribeBuffered(events.Filter{Kinds: []events.Kind{events.KindOperatorAction}}, 256)
	defer sub.Close()

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return
		case n, ok := <-sub.C:
			if !ok {
				return
			}
			action, ok := n.Payload.(events.OperatorAction)
			if !ok {
				continue
			}
			s.logAuditEntry(ctx, n.At, action)
		}
	}
}

// logAuditEntry creates an audit log entry from an operator action.
func (s *Service) logAuditEntry(ctx context.Context, at time.Time, a events.OperatorAction) {
	entry := &models.AuditLog{
		Timestamp: at,
		Room:      a.Room,
		Action:    a.Action,
		Resource:  a.Resource,
		Outcome:   a.Outcome,
		Details:   make(map[string]any, len(a.Details)),
	}
	for k, v := range a.Details {
		entry.Details[k] = v
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(a.Action)).
			Str("room", a.Room).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	Room      string
	Action    models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs with filters, most recent first, plus the
// total number of matching rows.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.Room != "" {
		query = query.Where("room = ?", filters.Room)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100) // Default limit
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// Prune deletes entries older than cutoff and returns how many were removed.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.AuditLog{})
	return res.RowsAffected, res.Error
}
