package metrics

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	SalesCommitted       prometheus.Counter
	TicketsSold          prometheus.Counter
	SalesRejected        *prometheus.CounterVec // reason label: seat_unavailable|capacity_exceeded|invalid_segment|trip_closed|...
	TicketsReleasedTotal *prometheus.CounterVec // reason label: cancelled|no_show|hold_expired
	CommitDuration       prometheus.Histogram

	TripsCreated       prometheus.Counter
	TripsSkipped       prometheus.Counter
	MaterializeGaps    prometheus.Counter
	MaterializeSeconds prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec // method, route, status
	HTTPDuration *prometheus.HistogramVec

	HoldTTL prometheus.Gauge // seconds
}

func NewCollector(holdTTL time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		SalesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intercity_sales_committed_total",
			Help: "Total sales committed.",
		}),
		TicketsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intercity_tickets_sold_total",
			Help: "Total tickets created by committed sales.",
		}),
		SalesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercity_sales_rejected_total",
			Help: "Sales rejected, by reason.",
		}, []string{"reason"}),
		TicketsReleasedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercity_tickets_released_total",
			Help: "Tickets that released their seat segment, by reason.",
		}, []string{"reason"}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intercity_sale_commit_duration_seconds",
			Help:    "Duration of a sale commit including the trip lock wait.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TripsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intercity_trips_materialized_total",
			Help: "Total trips created by range materialization.",
		}),
		TripsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intercity_trips_skipped_total",
			Help: "Schedule dates skipped because a trip already existed.",
		}),
		MaterializeGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intercity_materialize_gaps_total",
			Help: "Schedule dates left without a trip.",
		}),
		MaterializeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intercity_materialize_duration_seconds",
			Help:    "Duration of range materialization runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intercity_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intercity_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intercity_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intercity_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercity_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intercity_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HoldTTL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intercity_hold_ttl_seconds",
			Help: "Configured lifetime of unpaid holds.",
		}),
	}

	reg.MustRegister(
		c.SalesCommitted, c.TicketsSold, c.SalesRejected, c.TicketsReleasedTotal, c.CommitDuration,
		c.TripsCreated, c.TripsSkipped, c.MaterializeGaps, c.MaterializeSeconds,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.HTTPRequests, c.HTTPDuration, c.HoldTTL,
	)
	c.HoldTTL.Set(holdTTL.Seconds())

	return c
}

// SaleCommitted implements booking.Recorder
func (c *Collector) SaleCommitted(tickets int, d time.Duration) {
	c.SalesCommitted.Inc()
	c.TicketsSold.Add(float64(tickets))
	c.CommitDuration.Observe(d.Seconds())
}

func (c *Collector) SaleRejected(reason string) {
	c.SalesRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) TicketsReleased(reason string, n int) {
	c.TicketsReleasedTotal.WithLabelValues(reason).Add(float64(n))
}

// RangeMaterialized implements materializer.Recorder
func (c *Collector) RangeMaterialized(created, skipped, gaps int, d time.Duration) {
	c.TripsCreated.Add(float64(created))
	c.TripsSkipped.Add(float64(skipped))
	c.MaterializeGaps.Add(float64(gaps))
	c.MaterializeSeconds.Observe(d.Seconds())
}

// NATS hooks implement events.PublisherMetrics
func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(v bool) {
	if v {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// Middleware records request counts and latency labelled by the matched route
// pattern, so path parameters do not explode cardinality.
func (c *Collector) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		start := time.Now()
		err := ctx.Next()

		route := ctx.Route().Path
		status := ctx.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		c.HTTPRequests.WithLabelValues(ctx.Method(), route, strconv.Itoa(status)).Inc()
		c.HTTPDuration.WithLabelValues(ctx.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("📈 Metrics listening on %s", addr)
	return srv
}
