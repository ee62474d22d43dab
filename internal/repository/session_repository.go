package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `
	id, requester_id, counterpart_id, requested_by, subject, message, status,
	proposed_date, proposed_time, final, attendance,
	accepted_at, rejected_at, scheduled_at, completed_at, cancelled_at, cancelled_by, expired_at,
	created_at, updated_at, version
`

type SessionRepository struct {
	*base.Repository
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{Repository: base.NewRepository(pool)}
}

// Create сохраняет новую сессию
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	final, attendance, err := encodeSessionDocs(s)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	proposedDate, proposedTime := proposedColumns(s)

	query := `
		INSERT INTO sessions (` + sessionColumns + `, final_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`
	_, err = r.ExecAffected(ctx, query,
		s.ID, s.RequesterID, s.CounterpartID, s.RequestedBy, s.Subject, s.Message, string(s.Status),
		proposedDate, proposedTime, final, attendance,
		s.AcceptedAt, s.RejectedAt, s.ScheduledAt, s.CompletedAt, s.CancelledAt, s.CancelledBy, s.ExpiredAt,
		s.CreatedAt, s.UpdatedAt, s.Version, finalDate(s),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetByID получает сессию по ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	return s, nil
}

// Update перезаписывает изменяемые поля сессии, если версия в базе та же, что была прочитана.
// Иначе возвращает model.ErrStaleSession. При успехе версия увеличивается
func (r *SessionRepository) Update(ctx context.Context, s *model.Session) error {
	final, attendance, err := encodeSessionDocs(s)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	proposedDate, proposedTime := proposedColumns(s)

	query := `
		UPDATE sessions SET
			status = $2, proposed_date = $3, proposed_time = $4, final = $5, final_date = $6, attendance = $7,
			accepted_at = $8, rejected_at = $9, scheduled_at = $10, completed_at = $11,
			cancelled_at = $12, cancelled_by = $13, expired_at = $14, updated_at = $15,
			version = version + 1
		WHERE id = $1 AND version = $16
	`
	affected, err := r.ExecAffected(ctx, query,
		s.ID, string(s.Status), proposedDate, proposedTime, final, finalDate(s), attendance,
		s.AcceptedAt, s.RejectedAt, s.ScheduledAt, s.CompletedAt,
		s.CancelledAt, s.CancelledBy, s.ExpiredAt, s.UpdatedAt, s.Version,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update session %s: %w", s.ID, model.ErrStaleSession)
	}
	s.Version++
	return nil
}

// GetActiveByOwnerDate сессии волонтёра, занимающие слот на дату
func (r *SessionRepository) GetActiveByOwnerDate(ctx context.Context, ownerID, date string) ([]*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE counterpart_id = $1 AND final_date = $2 AND status IN ('scheduled', 'in_progress')
		ORDER BY created_at
	`
	return r.list(ctx, "get active sessions", query, ownerID, date)
}

// GetByParticipant все сессии пользователя
func (r *SessionRepository) GetByParticipant(ctx context.Context, userID string) ([]*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE requester_id = $1 OR counterpart_id = $1
		ORDER BY created_at
	`
	return r.list(ctx, "get sessions by participant", query, userID)
}

// GetUnfinished нетерминальные сессии с закреплённым слотом
func (r *SessionRepository) GetUnfinished(ctx context.Context) ([]*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE final IS NOT NULL AND status IN ('pending', 'accepted', 'scheduled', 'in_progress')
		ORDER BY created_at
	`
	return r.list(ctx, "get unfinished sessions", query)
}

func (r *SessionRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*model.Session, error) {
	return base.QueryAll(ctx, r.Repository, op, scanSession, query, args...)
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var (
		s                          model.Session
		status                     string
		proposedDate, proposedTime *string
		final, attendance          []byte
	)
	err := row.Scan(
		&s.ID, &s.RequesterID, &s.CounterpartID, &s.RequestedBy, &s.Subject, &s.Message, &status,
		&proposedDate, &proposedTime, &final, &attendance,
		&s.AcceptedAt, &s.RejectedAt, &s.ScheduledAt, &s.CompletedAt, &s.CancelledAt, &s.CancelledBy, &s.ExpiredAt,
		&s.CreatedAt, &s.UpdatedAt, &s.Version,
	)
	if err != nil {
		return nil, err
	}

	s.Status = model.SessionStatus(status)
	if proposedDate != nil && proposedTime != nil {
		s.Proposed = &model.Slot{Date: *proposedDate, TimeOrRange: *proposedTime}
	}
	if len(final) > 0 {
		s.Final = &model.FinalSlot{}
		if err := json.Unmarshal(final, s.Final); err != nil {
			return nil, fmt.Errorf("decode final slot: %w", err)
		}
	}
	if len(attendance) > 0 {
		if err := json.Unmarshal(attendance, &s.Attendance); err != nil {
			return nil, fmt.Errorf("decode attendance: %w", err)
		}
	}
	normalizeTimes(&s)
	return &s, nil
}

// encodeSessionDocs JSONB-колонки. Пустой final пишется как NULL
func encodeSessionDocs(s *model.Session) (final, attendance []byte, err error) {
	if s.Final != nil {
		if final, err = json.Marshal(s.Final); err != nil {
			return nil, nil, fmt.Errorf("encode final slot: %w", err)
		}
	}
	if attendance, err = json.Marshal(s.Attendance); err != nil {
		return nil, nil, fmt.Errorf("encode attendance: %w", err)
	}
	return final, attendance, nil
}

func proposedColumns(s *model.Session) (*string, *string) {
	if s.Proposed.IsZero() {
		return nil, nil
	}
	return &s.Proposed.Date, &s.Proposed.TimeOrRange
}

func finalDate(s *model.Session) *string {
	if s.Final == nil {
		return nil
	}
	return &s.Final.Date
}

// normalizeTimes моменты из базы приводятся к UTC
func normalizeTimes(s *model.Session) {
	for _, t := range []*time.Time{s.AcceptedAt, s.RejectedAt, s.ScheduledAt, s.CompletedAt, s.CancelledAt, s.ExpiredAt} {
		if t != nil {
			*t = t.UTC()
		}
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
}
