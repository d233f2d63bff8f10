package service

import (
	"context"
	"errors"
	"strings"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/models"

	"github.com/rs/zerolog"
)

type UserService struct {
	store  domain.UserStore
	logger *zerolog.Logger
}

func NewUserService(store domain.UserStore, logger *zerolog.Logger) *UserService {
	return &UserService{store: store, logger: logger}
}

// CurrentUser resolves an authenticated user id into the actor passed to
// every other service call.
func (s *UserService) CurrentUser(ctx context.Context, userID int64) (models.Actor, error) {
	if userID <= 0 {
		return models.Actor{}, apperr.ErrUnauthorized
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Actor{}, apperr.Newf(apperr.KindUnauthorized, "unknown user %d", userID)
	}
	if err != nil {
		return models.Actor{}, err
	}

	actor := models.Actor{UserID: user.ID, Role: user.Role}
	if user.Role == models.RoleProfessional {
		p, err := s.store.GetProfessionalByUserID(ctx, user.ID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			s.logger.Warn().Int64("user_id", user.ID).Msg("professional user without profile")
		case err != nil:
			return models.Actor{}, err
		default:
			actor.ProfessionalID = p.ID
		}
	}
	return actor, nil
}

func (s *UserService) RegisterUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.Name = strings.TrimSpace(user.Name)
	if user.Email == "" || user.Name == "" {
		return apperr.New(apperr.KindInvalidInput, "email and name are required")
	}
	if user.Role == "" {
		user.Role = models.RoleClient
	}
	if !user.Role.Valid() {
		return apperr.Newf(apperr.KindInvalidInput, "unknown role %q", user.Role)
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return err
	}
	s.logger.Info().Int64("user_id", user.ID).Str("role", string(user.Role)).Msg("User registered")
	return nil
}

// RegisterProfessional creates the professional profile of a PRO user.
func (s *UserService) RegisterProfessional(ctx context.Context, p *models.Professional) error {
	user, err := s.store.GetUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	if user.Role != models.RoleProfessional {
		return apperr.Newf(apperr.KindInvalidInput, "user %d is not a professional", user.ID)
	}
	if p.DisplayName == "" {
		p.DisplayName = user.Name
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	if _, err := (models.WorkingHours{Timezone: p.Timezone}).Location(); err != nil {
		return err
	}
	return s.store.CreateProfessional(ctx, p)
}

func (s *UserService) GetProfessional(ctx context.Context, id int64) (*models.Professional, error) {
	return s.store.GetProfessional(ctx, id)
}
