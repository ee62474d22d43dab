package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AvailabilityRepository struct {
	*base.Repository
}

func NewAvailabilityRepository(pool *pgxpool.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{Repository: base.NewRepository(pool)}
}

// Get день доступности волонтёра
func (r *AvailabilityRepository) Get(ctx context.Context, ownerID, date string) (*model.Availability, error) {
	query := `
		SELECT owner_id, to_char(date, 'YYYY-MM-DD'), slots, updated_at
		FROM availability
		WHERE owner_id = $1 AND date = $2::date
	`

	a, err := scanAvailability(r.QueryRow(ctx, query, ownerID, date))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get availability: %w", err)
	}
	return a, nil
}

// Save заменяет слоты дня целиком
func (r *AvailabilityRepository) Save(ctx context.Context, a *model.Availability) error {
	query := `
		INSERT INTO availability (owner_id, date, slots, updated_at)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (owner_id, date) DO UPDATE SET slots = EXCLUDED.slots, updated_at = EXCLUDED.updated_at
	`

	slots := a.Slots
	if slots == nil {
		slots = []string{}
	}
	if _, err := r.ExecAffected(ctx, query, a.OwnerID, a.Date, slots, a.UpdatedAt); err != nil {
		return fmt.Errorf("save availability: %w", err)
	}
	return nil
}

// GetByOwner дни волонтёра начиная с fromDate
func (r *AvailabilityRepository) GetByOwner(ctx context.Context, ownerID, fromDate string) ([]*model.Availability, error) {
	query := `
		SELECT owner_id, to_char(date, 'YYYY-MM-DD'), slots, updated_at
		FROM availability
		WHERE owner_id = $1 AND date >= $2::date
		ORDER BY date
	`

	return base.QueryAll(ctx, r.Repository, "get availability by owner", scanAvailability, query, ownerID, fromDate)
}

func scanAvailability(row pgx.Row) (*model.Availability, error) {
	var a model.Availability
	if err := row.Scan(&a.OwnerID, &a.Date, &a.Slots, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
