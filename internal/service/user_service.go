package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Допустимые смещения UTC в минутах
const (
	minUTCOffset = -12 * 60
	maxUTCOffset = 14 * 60
)

type UserService struct {
	userRepo UserRepository
	clock    clock.Clock
	logger   *zap.Logger
}

func NewUserService(userRepo UserRepository, clk clock.Clock, logger *zap.Logger) *UserService {
	return &UserService{
		userRepo: userRepo,
		clock:    clk,
		logger:   logger,
	}
}

// RegisterUser регистрирует или обновляет пользователя Telegram
func (s *UserService) RegisterUser(ctx context.Context, telegramID int64, username, name string) (*model.User, error) {
	// Проверяем существует ли пользователь
	existingUser, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	// Если пользователь уже существует, обновляем данные
	if existingUser != nil {
		if existingUser.Username == username && existingUser.Name == name {
			return existingUser, nil
		}

		existingUser.Username = username
		existingUser.Name = name

		if err := s.userRepo.Update(ctx, existingUser); err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}

		s.logger.Info("User updated",
			zap.Int64("telegram_id", telegramID),
			zap.String("username", username),
		)

		return existingUser, nil
	}

	// Создаём нового пользователя, по умолчанию студент
	user := &model.User{
		ID:         uuid.NewString(),
		TelegramID: telegramID,
		Username:   username,
		Name:       name,
		Role:       model.RoleStudent,
		CreatedAt:  s.clock.Now(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if !errors.Is(err, model.ErrDuplicate) {
			return nil, fmt.Errorf("create user: %w", err)
		}
		// параллельный /start успел создать запись
		existing, getErr := s.userRepo.GetByTelegramID(ctx, telegramID)
		if getErr != nil || existing == nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return existing, nil
	}

	s.logger.Info("New user registered",
		zap.String("user_id", user.ID),
		zap.Int64("telegram_id", telegramID),
		zap.String("username", username),
	)

	return user, nil
}

// GetByTelegramID получает пользователя по Telegram ID
func (s *UserService) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.userRepo.GetByTelegramID(ctx, telegramID)
}

// GetByID получает пользователя по ID
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// Resolve ищет пользователя по @username или ID
func (s *UserService) Resolve(ctx context.Context, ref string) (*model.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	if strings.HasPrefix(ref, "@") {
		return s.userRepo.GetByUsername(ctx, strings.TrimPrefix(ref, "@"))
	}
	if _, err := uuid.Parse(ref); err == nil {
		return s.userRepo.GetByID(ctx, ref)
	}
	return s.userRepo.GetByUsername(ctx, ref)
}

// BecomeVolunteer делает пользователя волонтёром
func (s *UserService) BecomeVolunteer(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.updateByTelegramID(ctx, telegramID, func(user *model.User) error {
		user.Role = model.RoleVolunteer
		return nil
	}, "User became volunteer")
}

// SetUTCOffset сохраняет смещение часового пояса пользователя
func (s *UserService) SetUTCOffset(ctx context.Context, telegramID int64, offsetMinutes int) (*model.User, error) {
	if offsetMinutes < minUTCOffset || offsetMinutes > maxUTCOffset {
		return nil, validationf("utc offset %d is out of range", offsetMinutes)
	}
	return s.updateByTelegramID(ctx, telegramID, func(user *model.User) error {
		user.UTCOffsetMinutes = &offsetMinutes
		return nil
	}, "User timezone updated")
}

// SetEmail сохраняет email, который используется как хост встречи
func (s *UserService) SetEmail(ctx context.Context, telegramID int64, email string) (*model.User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, validationf("invalid email %q", email)
	}
	return s.updateByTelegramID(ctx, telegramID, func(user *model.User) error {
		user.Email = addr.Address
		return nil
	}, "User email updated")
}

func (s *UserService) updateByTelegramID(ctx context.Context, telegramID int64, apply func(*model.User) error, logMsg string) (*model.User, error) {
	user, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if user == nil {
		return nil, fmt.Errorf("%w: user not registered", ErrNotFound)
	}

	if err := apply(user); err != nil {
		return nil, err
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.logger.Info(logMsg,
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
	)

	return user, nil
}
