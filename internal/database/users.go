package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/models"
)

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	result, err := db.ExecContext(ctx, `INSERT INTO users (email, name, role, created_at) VALUES (?, ?, ?, ?)`,
		user.Email, user.Name, user.Role, unix(now))
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.KindConflict, "user with email %q already exists", user.Email)
		}
		return classify(ctx, "create user", err)
	}
	if user.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	user.CreatedAt = now
	return nil
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var (
		u       models.User
		role    string
		created int64
	)
	err := db.QueryRowContext(ctx, `SELECT id, email, name, role, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "user %d not found", id)
	}
	if err != nil {
		return nil, classify(ctx, "get user", err)
	}
	u.Role = models.Role(role)
	u.CreatedAt = fromUnix(created)
	return &u, nil
}

func (db *DB) CreateProfessional(ctx context.Context, p *models.Professional) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	now := time.Now().UTC().Truncate(time.Second)
	result, err := db.ExecContext(ctx, `INSERT INTO professionals (user_id, display_name, timezone, telegram_chat_id, created_at)
		VALUES (?, ?, ?, ?, ?)`, p.UserID, p.DisplayName, p.Timezone, p.TelegramChatID, unix(now))
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.KindConflict, "user %d already has a professional profile", p.UserID)
		}
		return classify(ctx, "create professional", err)
	}
	if p.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.CreatedAt = now
	return nil
}

const professionalColumns = `id, user_id, display_name, timezone, telegram_chat_id, created_at`

func scanProfessional(row scanner) (*models.Professional, error) {
	var (
		p       models.Professional
		created int64
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.DisplayName, &p.Timezone, &p.TelegramChatID, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = fromUnix(created)
	return &p, nil
}

func (db *DB) GetProfessional(ctx context.Context, id int64) (*models.Professional, error) {
	return db.getProfessional(ctx, `WHERE id = ?`, id)
}

func (db *DB) GetProfessionalByUserID(ctx context.Context, userID int64) (*models.Professional, error) {
	return db.getProfessional(ctx, `WHERE user_id = ?`, userID)
}

func (db *DB) getProfessional(ctx context.Context, where string, arg int64) (*models.Professional, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	p, err := scanProfessional(db.QueryRowContext(ctx, `SELECT `+professionalColumns+` FROM professionals `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "professional not found")
	}
	if err != nil {
		return nil, classify(ctx, "get professional", err)
	}
	return p, nil
}
