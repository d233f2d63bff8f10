package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tovis/internal/auth"
	"tovis/internal/config"
	"tovis/internal/database"
	"tovis/internal/events"
	"tovis/internal/models"
	"tovis/internal/repository"
	"tovis/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSecret = "api-test-secret-0123456789"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// monday is 2025-03-03, the day every API scenario runs on.
func monday(hour, minute int) time.Time {
	return time.Date(2025, 3, 3, hour, minute, 0, 0, time.UTC)
}

type apiFixture struct {
	db     *database.DB
	svc    Services
	tokens *auth.Authenticator
	authn  *Authenticator
	cfg    config.APIConfig
	logger *zerolog.Logger

	pro    models.Actor
	client models.Actor
	other  models.Actor
	svc60  *models.Service
}

// newAPIFixture seeds a professional working Monday 09:00-17:00 UTC with a
// 60 minute service and two clients. The services see Monday 08:00.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	proUser := &models.User{Email: "pro@example.com", Name: "Ana", Role: models.RoleProfessional}
	require.NoError(t, db.CreateUser(ctx, proUser))
	prof := &models.Professional{UserID: proUser.ID, DisplayName: "Ana", Timezone: "UTC"}
	require.NoError(t, db.CreateProfessional(ctx, prof))
	clientUser := &models.User{Email: "client@example.com", Name: "Bo", Role: models.RoleClient}
	require.NoError(t, db.CreateUser(ctx, clientUser))
	otherUser := &models.User{Email: "other@example.com", Name: "Cy", Role: models.RoleClient}
	require.NoError(t, db.CreateUser(ctx, otherUser))

	svc60 := &models.Service{ProfessionalID: prof.ID, Name: "Haircut", DurationMinutes: 60, IsActive: true}
	require.NoError(t, db.SaveService(ctx, svc60))
	require.NoError(t, db.SetWorkingHours(ctx, &models.WorkingHours{
		ProfessionalID: prof.ID,
		Timezone:       "UTC",
		Days:           models.WeeklySchedule{time.Monday: {{Start: 9 * 60, End: 17 * 60}}},
	}))

	clock := fixedClock{now: monday(8, 0)}
	opts := service.DefaultOptions()
	cache := repository.NewMemoryCacheRepository()
	recorder := service.NewEventRecorder(events.NewEventBus(), nil, &logger)
	users := service.NewUserService(db, &logger)

	svc := Services{
		Bookings:     service.NewBookingService(db, cache, recorder, clock, opts, &logger),
		Availability: service.NewAvailabilityService(db, cache, clock, opts, &logger),
		Blocks:       service.NewBlockService(db, cache, recorder, &logger),
		Sessions:     service.NewSessionService(db, clock, opts),
		Schedule:     service.NewScheduleService(db, cache, &logger),
		Catalog:      service.NewCatalogService(db, &logger),
		Users:        users,
		Export:       service.NewExportService(db, &logger),
	}

	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			JWTSecret: testSecret,
			JWTIssuer: "tovis-test",
			APIKeys: []config.APIClientKey{
				{Key: "crm-key", Extra: "crm-extra", Name: "crm", Permissions: []string{permReadAvailability}},
			},
		},
	}
	tokens := auth.NewAuthenticator(testSecret, "tovis-test", time.Hour)

	return &apiFixture{
		db:     db,
		svc:    svc,
		tokens: tokens,
		authn:  NewAuthenticator(cfg.Auth, tokens, users),
		cfg:    cfg,
		logger: &logger,
		pro:    models.Actor{UserID: proUser.ID, Role: models.RoleProfessional, ProfessionalID: prof.ID},
		client: models.Actor{UserID: clientUser.ID, Role: models.RoleClient},
		other:  models.Actor{UserID: otherUser.ID, Role: models.RoleClient},
		svc60:  svc60,
	}
}

func (f *apiFixture) httpServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := NewHTTPServer(f.cfg, f.svc, f.authn, f.db, f.logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func (f *apiFixture) token(t *testing.T, actor models.Actor) string {
	t.Helper()
	token, err := f.tokens.Issue(actor.UserID, actor.Role)
	require.NoError(t, err)
	return token
}

// do sends a JSON request as actor (anonymous when actor.UserID is 0) and
// decodes the response into out when given.
func (f *apiFixture) do(t *testing.T, ts *httptest.Server, actor models.Actor, method, path string, body, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor.UserID != 0 {
		req.Header.Set("Authorization", "Bearer "+f.token(t, actor))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func bookingAt(f *apiFixture, at time.Time) service.CreateBookingCommand {
	return service.CreateBookingCommand{
		ProfessionalID: f.pro.ProfessionalID,
		ServiceID:      f.svc60.ID,
		ScheduledFor:   at,
	}
}
