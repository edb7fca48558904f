package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	c := NewCollector(15 * time.Minute)

	c.SaleCommitted(3, 2*time.Millisecond)
	c.SaleRejected("seat_unavailable")
	c.SaleRejected("seat_unavailable")
	c.TicketsReleased("hold_expired", 4)
	c.RangeMaterialized(10, 2, 1, time.Second)
	c.NATSSetConnected(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.SalesCommitted))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.TicketsSold))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SalesRejected.WithLabelValues("seat_unavailable")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.TicketsReleasedTotal.WithLabelValues("hold_expired")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.TripsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	assert.Equal(t, 900.0, testutil.ToFloat64(c.HoldTTL))
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	c := NewCollector(time.Minute)
	app := fiber.New()
	app.Use(c.Middleware())
	app.Get("/trips/:id", func(ctx *fiber.Ctx) error { return ctx.SendStatus(fiber.StatusNoContent) })

	for _, id := range []string{"a", "b", "c"} {
		resp, err := app.Test(httptest.NewRequest("GET", "/trips/"+id, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/trips/:id", "204")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector(time.Minute)
	c.SaleCommitted(1, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "intercity_sales_committed_total 1")
}
