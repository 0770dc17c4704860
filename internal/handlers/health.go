package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"deskflow/internal/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var startTime = time.Now()

// HealthCheck reports liveness plus a database ping.
func HealthCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		dbStatus := "ok"
		if db != nil {
			sqlDB, err := db.DB()
			if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				status = "degraded"
				dbStatus = "unreachable"
			}
		}
		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"database":  dbStatus,
			"uptime":    time.Since(startTime).Round(time.Second).String(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// MetricsHandler renders the in-process counters in plain text
// exposition format.
func MetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		passes, evaluated, executed, failed, deduped := metrics.EscalationSnapshot()
		rlTotal, rlBy := metrics.RateLimitSnapshot()

		body := fmt.Sprintf("escalation_passes_total %d\n", passes)
		body += fmt.Sprintf("escalation_pairs_evaluated_total %d\n", evaluated)
		body += fmt.Sprintf("escalation_actions_executed_total %d\n", executed)
		body += fmt.Sprintf("escalation_actions_failed_total %d\n", failed)
		body += fmt.Sprintf("escalation_deduped_total %d\n", deduped)
		body += fmt.Sprintf("ratelimit_dropped_total %d\n", rlTotal)

		prefixes := make([]string, 0, len(rlBy))
		for p := range rlBy {
			prefixes = append(prefixes, p)
		}
		sort.Strings(prefixes)
		for _, p := range prefixes {
			body += fmt.Sprintf("ratelimit_dropped_total{prefix=%q} %d\n", p, rlBy[p])
		}
		c.String(http.StatusOK, body)
	}
}
