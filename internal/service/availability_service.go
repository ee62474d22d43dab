package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/timewindow"
	"go.uber.org/zap"
)

// AvailabilityService публикация слотов волонтёром
type AvailabilityService struct {
	ledger *AvailabilityLedger
	repo   AvailabilityRepository
	logger *zap.Logger
}

func NewAvailabilityService(ledger *AvailabilityLedger, repo AvailabilityRepository, logger *zap.Logger) *AvailabilityService {
	return &AvailabilityService{
		ledger: ledger,
		repo:   repo,
		logger: logger,
	}
}

// SetDay заменяет слоты на дату
func (s *AvailabilityService) SetDay(ctx context.Context, caller model.Caller, date string, slots []string) (*model.Availability, error) {
	if err := requireVolunteer(caller); err != nil {
		return nil, err
	}
	if _, err := timewindow.ParseDate(date); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	for _, slot := range slots {
		if err := timewindow.Validate(date, strings.TrimSpace(slot)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}

	day, err := s.ledger.Replace(ctx, caller.UserID, date, slots)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Availability updated",
		zap.String("owner_id", caller.UserID),
		zap.String("date", date),
		zap.Int("slots", len(day.Slots)),
	)

	return day, nil
}

// Toggle добавляет или убирает один слот
func (s *AvailabilityService) Toggle(ctx context.Context, caller model.Caller, date, slot string) (*model.Availability, error) {
	if err := requireVolunteer(caller); err != nil {
		return nil, err
	}
	slot = strings.TrimSpace(slot)
	if err := timewindow.Validate(date, slot); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return s.ledger.Toggle(ctx, caller.UserID, date, slot)
}

// Get слоты владельца на дату. Пустой день, если ничего не опубликовано
func (s *AvailabilityService) Get(ctx context.Context, ownerID, date string) (*model.Availability, error) {
	day, err := s.repo.Get(ctx, ownerID, date)
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}
	if day == nil {
		return &model.Availability{OwnerID: ownerID, Date: date}, nil
	}
	return day, nil
}

// ListUpcoming дни с опубликованными слотами начиная с fromDate
func (s *AvailabilityService) ListUpcoming(ctx context.Context, ownerID, fromDate string) ([]*model.Availability, error) {
	days, err := s.repo.GetByOwner(ctx, ownerID, fromDate)
	if err != nil {
		return nil, fmt.Errorf("get availability by owner: %w", err)
	}

	result := make([]*model.Availability, 0, len(days))
	for _, day := range days {
		if len(day.Slots) > 0 {
			result = append(result, day)
		}
	}
	return result, nil
}

func requireVolunteer(caller model.Caller) error {
	if caller.UserID == "" || caller.Role != model.RoleVolunteer {
		return fmt.Errorf("%w: only volunteers can publish availability", ErrForbidden)
	}
	return nil
}
