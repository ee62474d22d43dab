package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, telegram_id, username, name, role, email, utc_offset_minutes, created_at`

type UserRepository struct {
	*base.Repository
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{Repository: base.NewRepository(pool)}
}

// Create создаёт нового пользователя
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.QueryRow(
		ctx, query,
		user.ID,
		nullableTelegramID(user.TelegramID),
		user.Username,
		user.Name,
		string(user.Role),
		user.Email,
		user.UTCOffsetMinutes,
		user.CreatedAt,
	).Scan(&user.CreatedAt)
	if base.IsUniqueViolation(err) {
		return fmt.Errorf("create user: %w", model.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

// Update обновляет профиль пользователя
func (r *UserRepository) Update(ctx context.Context, user *model.User) error {
	query := `
		UPDATE users
		SET username = $2, name = $3, role = $4, email = $5, utc_offset_minutes = $6
		WHERE id = $1
	`

	affected, err := r.ExecAffected(ctx, query,
		user.ID, user.Username, user.Name, string(user.Role), user.Email, user.UTCOffsetMinutes)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update user: user %s not found", user.ID)
	}
	return nil
}

// GetByID получает пользователя по ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.getOne(ctx, "get user by id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByTelegramID получает пользователя по Telegram ID
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return r.getOne(ctx, "get user by telegram id", `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
}

// GetByUsername поиск без учёта регистра
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username <> '' AND LOWER(username) = LOWER($1) LIMIT 1`
	return r.getOne(ctx, "get user by username", query, username)
}

func (r *UserRepository) getOne(ctx context.Context, op, query string, arg interface{}) (*model.User, error) {
	user, err := scanUser(r.QueryRow(ctx, query, arg))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil // Пользователь не найден
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		user       model.User
		telegramID *int64
		role       string
	)
	err := row.Scan(
		&user.ID,
		&telegramID,
		&user.Username,
		&user.Name,
		&role,
		&user.Email,
		&user.UTCOffsetMinutes,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if telegramID != nil {
		user.TelegramID = *telegramID
	}
	user.Role = model.Role(role)
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

// nullableTelegramID пользователи из CLI могут не иметь чата
func nullableTelegramID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
