// Package google mirrors booking lifecycle events into a Google Sheets
// schedule spreadsheet.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"tovis/internal/events"
	"tovis/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	SinkName  = "sheets"
	sheetName = "Bookings"
	// lastColumn is the column of the last field in bookingRow.
	lastColumn = "K"
)

var headerRow = []interface{}{
	"ID", "Professional", "Client", "Service", "Service Name", "Scheduled For",
	"Minutes", "Status", "Started At", "Finished At", "Updated At",
}

var errRowNotFound = errors.New("booking row not found")

// SheetsSink keeps one row per booking in the Bookings sheet. Row indexes
// are cached per booking id so status changes update in place.
type SheetsSink struct {
	service       *sheets.Service
	spreadsheetID string
	rowCache      map[int64]int
	cacheMu       sync.RWMutex
	now           func() time.Time
	logger        *zerolog.Logger
}

// NewSheetsSink authenticates with a service account credentials file.
func NewSheetsSink(ctx context.Context, credentialsFile, spreadsheetID string, logger *zerolog.Logger) (*SheetsSink, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	cfg, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return newSheetsSink(srv, spreadsheetID, logger), nil
}

func newSheetsSink(srv *sheets.Service, spreadsheetID string, logger *zerolog.Logger) *SheetsSink {
	return &SheetsSink{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[int64]int),
		now:           time.Now,
		logger:        logger,
	}
}

func (s *SheetsSink) Name() string { return SinkName }

// TestConnection reads the header cell of the Bookings sheet.
func (s *SheetsSink) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the column titles into row 1.
func (s *SheetsSink) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:%s1", sheetName, lastColumn)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{
		Values: [][]interface{}{headerRow},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// Deliver upserts the booking row for booking events and ignores the rest.
func (s *SheetsSink) Deliver(ctx context.Context, event *models.OutboxEvent) error {
	if !isBookingEvent(event.EventType) {
		return nil
	}
	var payload events.BookingEventPayload
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		s.logger.Error().Err(err).Int64("event_id", event.ID).Msg("sheets: malformed payload dropped")
		return nil
	}
	return s.UpsertBooking(ctx, payload)
}

// UpsertBooking updates the booking's row or appends a new one.
func (s *SheetsSink) UpsertBooking(ctx context.Context, p events.BookingEventPayload) error {
	if p.BookingID == 0 {
		return errors.New("booking id is required")
	}

	row, err := s.FindBookingRow(ctx, p.BookingID)
	if errors.Is(err, errRowNotFound) {
		return s.appendBooking(ctx, p)
	}
	if err != nil {
		return err
	}

	rng := fmt.Sprintf("%s!A%d:%s%d", sheetName, row, lastColumn, row)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{
		Values: [][]interface{}{s.bookingRow(p)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *SheetsSink) appendBooking(ctx context.Context, p events.BookingEventPayload) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, sheetName+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{s.bookingRow(p)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}
	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(p.BookingID, row)
		}
	}
	return nil
}

// FindBookingRow returns the 1-based row of bookingID in column A.
func (s *SheetsSink) FindBookingRow(ctx context.Context, bookingID int64) (int, error) {
	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}
	if err := s.WarmUpCache(ctx); err != nil {
		return 0, err
	}
	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}
	return 0, errRowNotFound
}

// WarmUpCache rebuilds the row index from the ID column.
func (s *SheetsSink) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[int64]int, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if id := cellID(row[0]); id > 0 {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func (s *SheetsSink) getCachedRow(id int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsSink) setCachedRow(id int64, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *SheetsSink) bookingRow(p events.BookingEventPayload) []interface{} {
	return []interface{}{
		p.BookingID,
		p.ProfessionalID,
		p.ClientID,
		p.ServiceID,
		p.ServiceName,
		p.ScheduledFor.UTC().Format(time.RFC3339),
		p.DurationMinutes,
		string(p.Status),
		formatOptional(p.StartedAt),
		formatOptional(p.FinishedAt),
		s.now().UTC().Format(time.RFC3339),
	}
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func cellID(v interface{}) int64 {
	switch v := v.(type) {
	case float64:
		return int64(v)
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	}
	return 0
}

// rowFromRange extracts the first row number from a range such as
// "Bookings!A10:K10".
func rowFromRange(rng string) (int, bool) {
	start := -1
	for i, r := range rng {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, err := strconv.Atoi(rng[start:i])
			return n, err == nil
		}
	}
	if start < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rng[start:])
	return n, err == nil
}

func isBookingEvent(eventType string) bool {
	for _, t := range events.BookingEvents {
		if t == eventType {
			return true
		}
	}
	return false
}
