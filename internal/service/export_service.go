package service

import (
	"context"
	"io"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/export"
	"tovis/internal/models"
	"tovis/internal/timerange"

	"github.com/rs/zerolog"
)

const maxExportWindow = 366 * 24 * time.Hour

type ExportService struct {
	store  domain.Store
	logger *zerolog.Logger
}

func NewExportService(store domain.Store, logger *zerolog.Logger) *ExportService {
	return &ExportService{store: store, logger: logger}
}

// ExportBookings writes every booking of the professional scheduled in
// [from, to) as an XLSX workbook, rendered in the professional's timezone.
func (s *ExportService) ExportBookings(ctx context.Context, actor models.Actor, professionalID int64, from, to time.Time, w io.Writer) error {
	if !canManage(actor, professionalID) {
		return apperr.New(apperr.KindForbidden, "only the professional can export their bookings")
	}
	window, err := timerange.New(from, to)
	if err != nil {
		return err
	}
	if window.Duration() > maxExportWindow {
		return apperr.New(apperr.KindInvalidRange, "export window is limited to one year")
	}

	bookings, err := s.store.ListBookingsForExport(ctx, professionalID, from, to)
	if err != nil {
		return err
	}
	services, err := s.store.ListServices(ctx, professionalID)
	if err != nil {
		return err
	}
	wh, err := s.store.GetWorkingHours(ctx, professionalID)
	if err != nil {
		return err
	}
	loc, err := wh.Location()
	if err != nil {
		return err
	}

	names := make(map[int64]string, len(services))
	for _, svc := range services {
		names[svc.ID] = svc.Name
	}

	if err := export.WriteBookings(w, bookings, export.Params{From: from, To: to, Location: loc, Services: names}); err != nil {
		return err
	}
	s.logger.Info().Int64("professional_id", professionalID).Int("bookings", len(bookings)).Msg("Bookings exported")
	return nil
}
