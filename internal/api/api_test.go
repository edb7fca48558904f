package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passbi/intercity/internal/api"
	"github.com/passbi/intercity/internal/booking"
	"github.com/passbi/intercity/internal/cache"
	"github.com/passbi/intercity/internal/clock"
	"github.com/passbi/intercity/internal/materializer"
	"github.com/passbi/intercity/internal/middleware"
	"github.com/passbi/intercity/internal/models"
	"github.com/passbi/intercity/internal/network"
	"github.com/passbi/intercity/internal/recurrence"
	"github.com/passbi/intercity/internal/seatmap"
	"github.com/passbi/intercity/internal/store/memory"
	"github.com/passbi/intercity/internal/topology"
)

const tenant = "coop-1"

// Monday
var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func testNetwork() *network.Network {
	n := &network.Network{
		TenantID: tenant,
		Routes:   []models.Route{{ID: "R1", TenantID: tenant, Code: "LPZ-ORU", Category: "cama", Active: true}},
		Stops: []models.Stop{
			{ID: "R1:0", TenantID: tenant, RouteID: "R1", Order: 0, CityName: "La Paz"},
			{ID: "R1:1", TenantID: tenant, RouteID: "R1", Order: 1, CityName: "Patacamaya", CumDistanceKm: 100, CumMinutes: 90, CumFare: 1500},
			{ID: "R1:2", TenantID: tenant, RouteID: "R1", Order: 2, CityName: "Oruro", CumDistanceKm: 230, CumMinutes: 200, CumFare: 3000},
		},
		Schedules: []models.Schedule{
			{ID: "SC1", TenantID: tenant, RouteID: "R1", DepartureTime: 8 * 3600, WeekMask: uint8(recurrence.AllDays), Active: true},
		},
		Buses: []models.Bus{
			{ID: "B1", TenantID: tenant, Category: "cama", TotalSeats: 4, Active: true},
			{ID: "B2", TenantID: tenant, Category: "cama", TotalSeats: 4, Active: true},
		},
		Crew: []models.CrewMember{{ID: "D1", TenantID: tenant, Role: models.RoleDriver, Active: true}},
	}
	for _, bus := range []string{"B1", "B2"} {
		for i := 1; i <= 4; i++ {
			n.Seats = append(n.Seats, models.Seat{
				ID: fmt.Sprintf("%s-S%d", bus, i), BusID: bus, Floor: 1, Row: (i + 1) / 2, Column: 2 - i%2,
				Label: fmt.Sprint(i), Enabled: true,
			})
		}
	}
	return n
}

func newApp(t *testing.T, checks ...api.HealthCheck) *fiber.App {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.SaveNetwork(context.Background(), testNetwork()))

	clk := clock.NewFixed(now)
	local := cache.NewLocal()
	routes := topology.NewRegistry(st)
	engine := booking.NewEngine(st, routes, seatmap.NewResolver(st), clk, booking.Options{
		HoldTTL: 15 * time.Minute,
		Cache:   local,
	})
	mat := materializer.New(st, st, clk, materializer.Options{
		Selector: &materializer.FirstSelector{},
		Cache:    local,
	})

	h := api.New(api.Deps{
		Store:        st,
		Engine:       engine,
		Materializer: mat,
		Routes:       routes,
		Clock:        clk,
		HorizonDays:  3,
		Checks:       checks,
	})

	app := fiber.New(fiber.Config{ErrorHandler: api.ErrorHandler})
	app.Get("/health", h.Health)
	v1 := app.Group("/v1", middleware.HeaderTenant())
	h.Register(v1)
	return app
}

func call(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Tenant-ID", tenant)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func tripOn(t *testing.T, app *fiber.App, date string) map[string]any {
	t.Helper()
	status, body := call(t, app, "GET", "/v1/trips?date="+date, nil)
	require.Equal(t, 200, status)
	trips := body["trips"].([]any)
	require.Len(t, trips, 1)
	return trips[0].(map[string]any)
}

func TestHealth(t *testing.T) {
	ok := api.HealthCheck{Name: "postgres", Check: func(context.Context) error { return nil }}
	down := api.HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}

	status, body := call(t, newApp(t, ok), "GET", "/health", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "healthy", body["status"])

	status, body = call(t, newApp(t, ok, down), "GET", "/health", nil)
	assert.Equal(t, 503, status)
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["redis"])
}

func TestRouteEndpoints(t *testing.T) {
	app := newApp(t)

	status, body := call(t, app, "GET", "/v1/routes/R1/stops", nil)
	require.Equal(t, 200, status)
	assert.EqualValues(t, 3, body["total"])

	tests := []struct {
		name   string
		path   string
		status int
		fare   float64
	}{
		{"full route", "/v1/routes/R1/fare?from=0&to=2", 200, 3000},
		{"second leg", "/v1/routes/R1/fare?from=1&to=2", 200, 1500},
		{"reversed", "/v1/routes/R1/fare?from=2&to=1", 400, 0},
		{"past last stop", "/v1/routes/R1/fare?from=0&to=3", 400, 0},
		{"missing param", "/v1/routes/R1/fare?from=0", 400, 0},
		{"unknown route", "/v1/routes/R9/fare?from=0&to=1", 404, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, app, "GET", tt.path, nil)
			assert.Equal(t, tt.status, status)
			if tt.status == 200 {
				assert.Equal(t, tt.fare, body["fare"])
			}
		})
	}
}

func TestMaterializeAndManage(t *testing.T) {
	app := newApp(t)

	status, body := call(t, app, "POST", "/v1/trips/materialize", nil)
	require.Equal(t, 200, status)
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 3, summary["created"], "default range covers the horizon")
	assert.Equal(t, "2025-03-12", body["to"])

	status, body = call(t, app, "POST", "/v1/trips/materialize", map[string]any{"from": "2025-03-10", "to": "2025-03-11"})
	require.Equal(t, 200, status)
	summary = body["summary"].(map[string]any)
	assert.EqualValues(t, 0, summary["created"])
	assert.EqualValues(t, 2, summary["skipped"])

	status, _ = call(t, app, "POST", "/v1/trips/materialize", map[string]any{"from": "2025-03-12", "to": "2025-03-10"})
	assert.Equal(t, 400, status)

	rangeTests := []struct {
		name   string
		from   string
		to     string
		status int
	}{
		{"whole horizon", "2025-03-13", "2025-03-15", 200},
		{"one day past the horizon", "2025-03-13", "2025-03-16", 400},
		{"centuries", "2000-01-01", "2999-12-31", 400},
	}
	for _, tt := range rangeTests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, app, "POST", "/v1/trips/materialize", map[string]any{"from": tt.from, "to": tt.to})
			assert.Equal(t, tt.status, status)
			if tt.status == 400 {
				assert.Contains(t, body["message"], "limited to 3 days")
			}
		})
	}

	today := tripOn(t, app, "2025-03-10")
	assert.Equal(t, "in_progress", today["display_state"])
	assert.Equal(t, "scheduled", today["state"])

	later := tripOn(t, app, "2025-03-12")
	assert.Equal(t, "scheduled", later["display_state"])
	id := later["id"].(string)

	status, body = call(t, app, "PUT", "/v1/trips/"+id+"/bus", map[string]any{"bus_id": "B2"})
	require.Equal(t, 200, status)
	assert.Equal(t, "B2", body["bus_id"])

	status, body = call(t, app, "POST", "/v1/trips/"+id+"/cancel", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "cancelled", body["display_state"])

	status, body = call(t, app, "POST", "/v1/trips/"+id+"/sales", map[string]any{
		"items": []map[string]any{{"seat_id": "B2-S1", "from": 0, "to": 2}},
	})
	assert.Equal(t, 422, status)
	assert.Equal(t, "trip_closed", body["error"])
}

func TestCreateManualTrip(t *testing.T) {
	app := newApp(t)
	req := map[string]any{"schedule_id": "SC1", "date": "2025-03-20", "bus_id": "B2"}

	status, body := call(t, app, "POST", "/v1/trips", req)
	require.Equal(t, 201, status)
	assert.Equal(t, "manual", body["origin"])
	assert.Equal(t, "B2", body["bus_id"])
	assert.Equal(t, "D1", body["driver_id"])

	status, body = call(t, app, "POST", "/v1/trips", req)
	assert.Equal(t, 409, status)
	assert.Equal(t, "already_materialized", body["error"])

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"bad date", map[string]any{"schedule_id": "SC1", "date": "20/03/2025"}, 400},
		{"unknown schedule", map[string]any{"schedule_id": "SC9", "date": "2025-03-21"}, 404},
		{"unknown bus", map[string]any{"schedule_id": "SC1", "date": "2025-03-21", "bus_id": "B9"}, 404},
		{"driver outside the tenant", map[string]any{"schedule_id": "SC1", "date": "2025-03-21", "driver_id": "X9"}, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := call(t, app, "POST", "/v1/trips", tt.body)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestSellingFlow(t *testing.T) {
	app := newApp(t)
	status, _ := call(t, app, "POST", "/v1/trips/materialize", map[string]any{"from": "2025-03-11", "to": "2025-03-11"})
	require.Equal(t, 200, status)
	trip := tripOn(t, app, "2025-03-11")
	id := trip["id"].(string)
	seat := func(n int) string { return fmt.Sprintf("%s-S%d", trip["bus_id"], n) }

	status, body := call(t, app, "GET", "/v1/trips/"+id+"/availability?from=0&to=2", nil)
	require.Equal(t, 200, status)
	assert.EqualValues(t, 4, body["free"])

	status, body = call(t, app, "POST", "/v1/trips/"+id+"/sales", map[string]any{
		"items": []map[string]any{{"seat_id": seat(1), "from": 0, "to": 2, "passenger_ref": "ana"}},
	})
	require.Equal(t, 201, status)
	assert.Equal(t, "pending", body["payment_status"])
	assert.NotNil(t, body["hold_expires_at"])
	held := body["id"].(string)

	status, body = call(t, app, "POST", "/v1/trips/"+id+"/sales", map[string]any{
		"items": []map[string]any{
			{"seat_id": seat(2), "from": 0, "to": 1},
			{"seat_id": seat(1), "from": 1, "to": 2},
		},
	})
	require.Equal(t, 409, status)
	assert.Equal(t, "seat_unavailable", body["error"])
	conflicts := body["conflicts"].([]any)
	require.Len(t, conflicts, 1)
	assert.Equal(t, seat(1), conflicts[0].(map[string]any)["seat_id"])

	status, body = call(t, app, "GET", "/v1/trips/"+id+"/availability?from=0&to=1", nil)
	require.Equal(t, 200, status)
	assert.EqualValues(t, 3, body["free"], "the aborted sale booked nothing")

	status, body = call(t, app, "POST", "/v1/trips/"+id+"/sales", map[string]any{
		"items": []map[string]any{
			{"seat_id": seat(2), "from": 0, "to": 1, "passenger_ref": "eva"},
			{"seat_id": seat(2), "from": 1, "to": 2, "passenger_ref": "luis"},
		},
		"paid": true,
	})
	require.Equal(t, 201, status)
	assert.Equal(t, "paid", body["payment_status"])
	assert.EqualValues(t, 3000, body["total_fare"])
	tickets := body["tickets"].([]any)
	require.Len(t, tickets, 2)
	eva := tickets[0].(map[string]any)["id"].(string)

	status, body = call(t, app, "POST", "/v1/sales/"+held+"/confirm", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "paid", body["payment_status"])

	status, body = call(t, app, "GET", "/v1/trips/"+id, nil)
	require.Equal(t, 200, status)
	assert.EqualValues(t, 2, body["occupied"])
	assert.Equal(t, true, body["has_sales"])

	status, body = call(t, app, "POST", "/v1/trips/"+id+"/cancel", nil)
	assert.Equal(t, 409, status)
	assert.Equal(t, "trip_locked", body["error"])

	status, body = call(t, app, "PUT", "/v1/trips/"+id+"/bus", map[string]any{"bus_id": "B2"})
	assert.Equal(t, 409, status)

	status, body = call(t, app, "POST", "/v1/tickets/"+eva+"/board", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "boarded", body["status"])

	status, body = call(t, app, "POST", "/v1/tickets/"+eva+"/cancel", nil)
	assert.Equal(t, 422, status)
	assert.Equal(t, "invalid_transition", body["error"])

	status, _ = call(t, app, "POST", "/v1/tickets/missing/no-show", nil)
	assert.Equal(t, 404, status)

	status, body = call(t, app, "GET", "/v1/reports/occupancy?from=2025-03-11&to=2025-03-11", nil)
	require.Equal(t, 200, status)
	totals := body["totals"].(map[string]any)
	assert.EqualValues(t, 1, totals["trips"])
	assert.EqualValues(t, 6000, totals["revenue"])
}

func TestManifestDownload(t *testing.T) {
	app := newApp(t)
	status, _ := call(t, app, "POST", "/v1/trips/materialize", map[string]any{"from": "2025-03-11", "to": "2025-03-11"})
	require.Equal(t, 200, status)
	trip := tripOn(t, app, "2025-03-11")

	req := httptest.NewRequest("GET", "/v1/trips/"+trip["id"].(string)+"/manifest.pdf", nil)
	req.Header.Set("X-Tenant-ID", tenant)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "MANIFEST_20250311_")
}

func TestTenantIsolation(t *testing.T) {
	app := newApp(t)
	status, _ := call(t, app, "POST", "/v1/trips/materialize", map[string]any{"from": "2025-03-11", "to": "2025-03-11"})
	require.Equal(t, 200, status)
	id := tripOn(t, app, "2025-03-11")["id"].(string)

	req := httptest.NewRequest("GET", "/v1/trips/"+id, nil)
	req.Header.Set("X-Tenant-ID", "coop-2")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestUsageReportWithoutPostgres(t *testing.T) {
	status, body := call(t, newApp(t), "GET", "/v1/reports/usage", nil)
	assert.Equal(t, 503, status)
	assert.Equal(t, "usage_unavailable", body["error"])
}
