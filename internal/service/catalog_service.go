package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

const maxServiceMinutes = 24 * 60

type CatalogService struct {
	store  domain.CatalogStore
	logger *zerolog.Logger
}

func NewCatalogService(store domain.CatalogStore, logger *zerolog.Logger) *CatalogService {
	return &CatalogService{store: store, logger: logger}
}

func (s *CatalogService) ListServices(ctx context.Context, professionalID int64) ([]*models.Service, error) {
	return s.store.ListServices(ctx, professionalID)
}

func (s *CatalogService) CreateService(ctx context.Context, actor models.Actor, svc *models.Service) error {
	if !canManage(actor, svc.ProfessionalID) {
		return apperr.New(apperr.KindForbidden, "only the professional can manage their services")
	}
	svc.ID = 0
	if err := validateService(svc); err != nil {
		return err
	}
	if err := s.store.SaveService(ctx, svc); err != nil {
		return err
	}
	s.logger.Info().Int64("service_id", svc.ID).Int64("professional_id", svc.ProfessionalID).Str("name", svc.Name).Msg("Service created")
	return nil
}

// Seed upserts services loaded from the catalog file.
func (s *CatalogService) Seed(ctx context.Context, services []models.Service) error {
	for i := range services {
		svc := services[i]
		if err := validateService(&svc); err != nil {
			return fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if err := s.store.SaveService(ctx, &svc); err != nil {
			return fmt.Errorf("failed to seed service %q: %w", svc.Name, err)
		}
	}
	s.logger.Info().Int("count", len(services)).Msg("Service catalog seeded")
	return nil
}

func validateService(svc *models.Service) error {
	svc.Name = strings.TrimSpace(svc.Name)
	if svc.Name == "" {
		return apperr.New(apperr.KindInvalidInput, "service name is required")
	}
	if svc.ProfessionalID == 0 {
		return apperr.New(apperr.KindInvalidInput, "service must belong to a professional")
	}
	if svc.DurationMinutes <= 0 || svc.DurationMinutes > maxServiceMinutes {
		return apperr.Newf(apperr.KindInvalidInput, "service duration must be between 1 and %d minutes", maxServiceMinutes)
	}
	return nil
}

type catalogEntry struct {
	ID              int64  `yaml:"id"`
	ProfessionalID  int64  `yaml:"professional_id"`
	Name            string `yaml:"name"`
	DurationMinutes int    `yaml:"duration_minutes"`
	IsActive        *bool  `yaml:"is_active"`
}

// LoadCatalog reads a services YAML file. Entries default to active.
func LoadCatalog(path string) ([]models.Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file struct {
		Services []catalogEntry `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	services := make([]models.Service, 0, len(file.Services))
	for _, e := range file.Services {
		services = append(services, models.Service{
			ID:              e.ID,
			ProfessionalID:  e.ProfessionalID,
			Name:            e.Name,
			DurationMinutes: e.DurationMinutes,
			IsActive:        e.IsActive == nil || *e.IsActive,
		})
	}
	return services, nil
}
