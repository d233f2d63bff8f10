package postgres

import (
	"context"
	"errors"

	"tovis/internal/apperr"
	"tovis/internal/models"

	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	err := s.pool.QueryRow(ctx, `INSERT INTO users (email, name, role) VALUES ($1, $2, $3) RETURNING id, created_at`,
		user.Email, user.Name, user.Role).Scan(&user.ID, &user.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Newf(apperr.KindConflict, "user with email %q already exists", user.Email)
	}
	user.CreatedAt = utc(user.CreatedAt)
	return classify(ctx, "create user", err)
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		u    models.User
		role string
	)
	err := s.pool.QueryRow(ctx, `SELECT id, email, name, role, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "user %d not found", id)
	}
	if err != nil {
		return nil, classify(ctx, "get user", err)
	}
	u.Role = models.Role(role)
	u.CreatedAt = utc(u.CreatedAt)
	return &u, nil
}

func (s *Store) CreateProfessional(ctx context.Context, p *models.Professional) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	err := s.pool.QueryRow(ctx, `INSERT INTO professionals (user_id, display_name, timezone, telegram_chat_id)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		p.UserID, p.DisplayName, p.Timezone, p.TelegramChatID).Scan(&p.ID, &p.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Newf(apperr.KindConflict, "user %d already has a professional profile", p.UserID)
	}
	p.CreatedAt = utc(p.CreatedAt)
	return classify(ctx, "create professional", err)
}

func (s *Store) GetProfessional(ctx context.Context, id int64) (*models.Professional, error) {
	return s.getProfessional(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetProfessionalByUserID(ctx context.Context, userID int64) (*models.Professional, error) {
	return s.getProfessional(ctx, `WHERE user_id = $1`, userID)
}

func (s *Store) getProfessional(ctx context.Context, where string, arg int64) (*models.Professional, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var p models.Professional
	err := s.pool.QueryRow(ctx, `SELECT id, user_id, display_name, timezone, telegram_chat_id, created_at
		FROM professionals `+where, arg).
		Scan(&p.ID, &p.UserID, &p.DisplayName, &p.Timezone, &p.TelegramChatID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "professional not found")
	}
	if err != nil {
		return nil, classify(ctx, "get professional", err)
	}
	p.CreatedAt = utc(p.CreatedAt)
	return &p, nil
}
