package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/models"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

type createBookingRequest struct {
	ProfessionalID int64     `json:"professional_id" validate:"required,gt=0"`
	ServiceID      int64     `json:"service_id" validate:"required,gt=0"`
	ScheduledFor   time.Time `json:"scheduled_for" validate:"required"`
	Note           string    `json:"note" validate:"max=500"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type createBlockRequest struct {
	ProfessionalID int64     `json:"professional_id" validate:"required,gt=0"`
	StartsAt       time.Time `json:"starts_at" validate:"required"`
	EndsAt         time.Time `json:"ends_at" validate:"required"`
	Note           string    `json:"note" validate:"max=500"`
}

type workingHoursRequest struct {
	Timezone string                `json:"timezone" validate:"max=64"`
	Days     models.WeeklySchedule `json:"days"`
}

type createServiceRequest struct {
	Name            string `json:"name" validate:"required,max=120"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gt=0,lte=1440"`
	IsActive        *bool  `json:"is_active"`
}

type availabilityResponse struct {
	ProfessionalID int64       `json:"professional_id"`
	ServiceID      int64       `json:"service_id"`
	Slots          []time.Time `json:"slots"`
}

// decodeJSON reads a size-limited body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperr.Wrap(apperr.KindInvalidInput, "invalid JSON body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, apperr.Newf(apperr.KindInvalidInput, "%s is required", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, apperr.Newf(apperr.KindInvalidInput, "%s must be a positive integer", name)
	}
	return v, nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, apperr.Newf(apperr.KindInvalidInput, "%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.KindInvalidInput, "%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}

func parseID(raw, name string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, apperr.Newf(apperr.KindInvalidInput, "invalid %s", name)
	}
	return v, nil
}
