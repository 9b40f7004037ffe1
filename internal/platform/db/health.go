package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthCheck reports on one piece of state kept in the database. Report
// returns the value shown under Name; an error marks the service unhealthy.
type HealthCheck struct {
	Name   string
	Report func(ctx context.Context) (interface{}, error)
}

// HealthHandler pings the database, reports pool statistics and runs checks.
// It answers 503 when the ping or a check fails.
func HealthHandler(pool *pgxpool.Pool, checks ...HealthCheck) echo.HandlerFunc {
	return healthHandler(pool.Ping, func() *PoolStats { return GetPoolStats(pool) }, checks)
}

func healthHandler(ping func(context.Context) error, stats func() *PoolStats, checks []HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"pool": stats()}
		if err := ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		status := http.StatusOK
		body["status"] = "healthy"
		for _, chk := range checks {
			v, err := chk.Report(ctx)
			if err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "unhealthy"
				body[chk.Name] = map[string]string{"error": err.Error()}
				continue
			}
			body[chk.Name] = v
		}
		return c.JSON(status, body)
	}
}
