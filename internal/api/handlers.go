package api

import (
	"bytes"
	"fmt"
	"net/http"

	"tovis/internal/models"
	"tovis/internal/service"

	"github.com/go-chi/chi/v5"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	writeJSON(w, http.StatusOK, actor)
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var (
		q   service.SlotQuery
		err error
	)
	if q.ProfessionalID, err = queryInt64(r, "professionalId"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if q.ServiceID, err = queryInt64(r, "serviceId"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if q.From, err = queryTime(r, "from"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if q.To, err = queryTime(r, "to"); err != nil {
		s.writeError(w, r, err)
		return
	}

	slots, err := s.svc.Availability.GetSlots(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		ProfessionalID: q.ProfessionalID,
		ServiceID:      q.ServiceID,
		Slots:          slots,
	})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	actor, _ := ActorFrom(r.Context())
	b, err := s.svc.Bookings.CreateBooking(r.Context(), actor, service.CreateBookingCommand{
		ProfessionalID: req.ProfessionalID,
		ServiceID:      req.ServiceID,
		ScheduledFor:   req.ScheduledFor,
		Note:           req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/bookings/%d", b.ID))
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "bookingID"), "booking id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	actor, _ := ActorFrom(r.Context())
	b, err := s.svc.Bookings.GetBooking(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "bookingID"), "booking id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := models.ParseBookingStatus(req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	b, err := s.svc.Bookings.UpdateStatus(r.Context(), actor, id, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "bookingID"), "booking id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	actor, _ := ActorFrom(r.Context())
	b, err := s.svc.Bookings.StartSession(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	pid, err := queryInt64(r, "professionalId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	actor, _ := ActorFrom(r.Context())
	view, err := s.svc.Sessions.ResolveSession(r.Context(), actor, pid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req createBlockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	actor, _ := ActorFrom(r.Context())
	block, err := s.svc.Blocks.CreateBlock(r.Context(), actor, service.CreateBlockCommand{
		ProfessionalID: req.ProfessionalID,
		StartsAt:       req.StartsAt,
		EndsAt:         req.EndsAt,
		Note:           req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, block)
}

func (s *HTTPServer) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	pid, err := queryInt64(r, "professionalId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	blocks, err := s.svc.Blocks.ListBlocks(r.Context(), actor, pid, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []*models.CalendarBlock{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

func (s *HTTPServer) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "blockID"), "block id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	actor, _ := ActorFrom(r.Context())
	if err := s.svc.Blocks.DeleteBlock(r.Context(), actor, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleGetWorkingHours(w http.ResponseWriter, r *http.Request) {
	pid, err := parseID(chi.URLParam(r, "professionalID"), "professional id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wh, err := s.svc.Schedule.GetWorkingHours(r.Context(), pid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (s *HTTPServer) handleSetWorkingHours(w http.ResponseWriter, r *http.Request) {
	pid, err := parseID(chi.URLParam(r, "professionalID"), "professional id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req workingHoursRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	wh := &models.WorkingHours{ProfessionalID: pid, Timezone: req.Timezone, Days: req.Days}
	actor, _ := ActorFrom(r.Context())
	if err := s.svc.Schedule.SetWorkingHours(r.Context(), actor, wh); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (s *HTTPServer) handleListServices(w http.ResponseWriter, r *http.Request) {
	pid, err := parseID(chi.URLParam(r, "professionalID"), "professional id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	services, err := s.svc.Catalog.ListServices(r.Context(), pid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if services == nil {
		services = []*models.Service{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (s *HTTPServer) handleCreateService(w http.ResponseWriter, r *http.Request) {
	pid, err := parseID(chi.URLParam(r, "professionalID"), "professional id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createServiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	svc := &models.Service{
		ProfessionalID:  pid,
		Name:            req.Name,
		DurationMinutes: req.DurationMinutes,
		IsActive:        req.IsActive == nil || *req.IsActive,
	}
	actor, _ := ActorFrom(r.Context())
	if err := s.svc.Catalog.CreateService(r.Context(), actor, svc); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

// handleExport renders the workbook into memory first so authorization and
// validation failures still produce a JSON error.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	pid, err := parseID(chi.URLParam(r, "professionalID"), "professional id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	var buf bytes.Buffer
	if err := s.svc.Export.ExportBookings(r.Context(), actor, pid, from, to, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bookings_%d_%s.xlsx"`, pid, from.Format("20060102")))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log.Warn().Err(err).Int64("professional_id", pid).Msg("export write interrupted")
	}
}
