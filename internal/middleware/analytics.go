package middleware

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RequestLog holds information about an API request for auditing
type RequestLog struct {
	TenantID       string
	Subject        string
	Endpoint       string
	Method         string
	ResponseTimeMs int
	ResponseStatus int
	IPAddress      string
	UserAgent      string
	Timestamp      time.Time
}

// UsageSink receives request logs
type UsageSink interface {
	Record(reqLog *RequestLog)
}

// AnalyticsMiddleware logs every tenant request to sink without blocking the response
func AnalyticsMiddleware(sink UsageSink) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		responseTime := time.Since(start)

		tenant, ok := Tenant(c)
		if !ok {
			return err
		}

		requestLog := &RequestLog{
			TenantID:       tenant.TenantID,
			Subject:        tenant.Subject,
			Endpoint:       c.Route().Path,
			Method:         c.Method(),
			ResponseTimeMs: int(responseTime.Milliseconds()),
			ResponseStatus: c.Response().StatusCode(),
			IPAddress:      c.IP(),
			UserAgent:      c.Get("User-Agent"),
			Timestamp:      time.Now(),
		}
		go sink.Record(requestLog)

		c.Set("X-Response-Time", responseTime.String())
		return err
	}
}

// PostgresUsage writes request logs to the api_usage table
type PostgresUsage struct {
	DB *pgxpool.Pool
}

func (p PostgresUsage) Record(reqLog *RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO api_usage (
			tenant_id,
			subject,
			endpoint,
			method,
			response_time_ms,
			response_status,
			ip_address,
			user_agent,
			timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := p.DB.Exec(ctx, query,
		reqLog.TenantID,
		reqLog.Subject,
		reqLog.Endpoint,
		reqLog.Method,
		reqLog.ResponseTimeMs,
		reqLog.ResponseStatus,
		reqLog.IPAddress,
		reqLog.UserAgent,
		reqLog.Timestamp,
	)
	if err != nil {
		log.Println("Failed to log request:", err)
	}
}

// LogUsage prints request logs, for deployments without PostgreSQL
type LogUsage struct{}

func (LogUsage) Record(r *RequestLog) {
	log.Printf("usage tenant=%s %s %s status=%d %dms", r.TenantID, r.Method, r.Endpoint, r.ResponseStatus, r.ResponseTimeMs)
}

// UsageStat is one day of a tenant's API traffic
type UsageStat struct {
	Date            string  `json:"date"`
	TotalRequests   int64   `json:"total_requests"`
	Successful      int64   `json:"successful"`
	Failed          int64   `json:"failed"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`
}

// DailyUsage aggregates the last days of api_usage for a tenant, newest first
func (p PostgresUsage) DailyUsage(ctx context.Context, tenantID string, days int) ([]UsageStat, error) {
	query := `
		SELECT
			DATE(timestamp) as date,
			COUNT(*) as total_requests,
			COUNT(*) FILTER (WHERE response_status >= 200 AND response_status < 300) as successful,
			COUNT(*) FILTER (WHERE response_status >= 400) as failed,
			COALESCE(AVG(response_time_ms), 0) as avg_response_time
		FROM api_usage
		WHERE tenant_id = $1
			AND timestamp >= NOW() - INTERVAL '1 day' * $2
		GROUP BY DATE(timestamp)
		ORDER BY date DESC
	`

	rows, err := p.DB.Query(ctx, query, tenantID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []UsageStat{}
	for rows.Next() {
		var s UsageStat
		var date time.Time
		if err := rows.Scan(&date, &s.TotalRequests, &s.Successful, &s.Failed, &s.AvgResponseTime); err != nil {
			return nil, err
		}
		s.Date = date.Format("2006-01-02")
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
