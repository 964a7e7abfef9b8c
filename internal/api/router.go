package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/devharness/devharness/pkg/errors"
	"github.com/devharness/devharness/pkg/health"
	"github.com/devharness/devharness/pkg/logging"
	"github.com/devharness/devharness/pkg/metrics"
	"github.com/devharness/devharness/pkg/perf"
	"github.com/devharness/devharness/pkg/resilience"
	"github.com/devharness/devharness/pkg/tracing"

	"github.com/devharness/devharness/internal/watchdog"
)

// Dependencies holds the components the ops API exposes
type Dependencies struct {
	Manager  *resilience.Manager
	Monitor  *perf.Monitor
	Watchdog *watchdog.Watchdog
	Health   *health.Service
	Metrics  *metrics.Metrics
	Tracer   *tracing.TracingService
	Logger   *logging.Logger
}

// NewRouter builds the ops HTTP API: health probes, Prometheus metrics, and
// read-only views of operations, breakers, alerts, and supervised services.
func NewRouter(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger))
	if deps.Tracer != nil {
		router.Use(deps.Tracer.TracingMiddleware())
	}

	router.GET("/health", deps.Health.Handler())
	router.GET("/health/live", deps.Health.LivenessHandler())
	router.GET("/health/ready", deps.Health.ReadinessHandler())
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/services", listServices(deps.Watchdog))
		v1.GET("/services/:name", getService(deps.Watchdog))
		v1.POST("/services/:name/start", startService(deps.Watchdog))
		v1.POST("/services/:name/stop", stopService(deps.Watchdog))

		v1.GET("/operations", listOperations(deps.Monitor))
		v1.GET("/operations/:name/stats", getOperationStats(deps.Manager, deps.Monitor))
		v1.GET("/breakers", listBreakers(deps.Manager))
		v1.GET("/alerts", listAlerts(deps.Monitor))
		v1.GET("/summary", getSummary(deps.Monitor))
		v1.GET("/timeouts/recent", recentTimeouts(deps.Monitor))
		v1.GET("/report", getReport(deps.Monitor))
		v1.GET("/report/pdf", getReportPDF(deps.Monitor))
	}

	return router
}

// requestLogger logs each request with method, path, status, and latency
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithDuration(time.Since(start)).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Info("HTTP request")
	}
}

func listServices(w *watchdog.Watchdog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"services": w.GetAllServicesStatus()})
	}
}

func getService(w *watchdog.Watchdog) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := w.GetServiceStatus(c.Param("name"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func startService(w *watchdog.Watchdog) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := w.StartService(c.Request.Context(), name); err != nil {
			respondError(c, err)
			return
		}
		status, _ := w.GetServiceStatus(name)
		c.JSON(http.StatusOK, status)
	}
}

func stopService(w *watchdog.Watchdog) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := w.StopService(c.Request.Context(), name); err != nil {
			respondError(c, err)
			return
		}
		status, _ := w.GetServiceStatus(name)
		c.JSON(http.StatusOK, status)
	}
}

func listOperations(monitor *perf.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operations": monitor.OperationNames()})
	}
}

func getOperationStats(manager *resilience.Manager, monitor *perf.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		response := gin.H{
			"operation": name,
			"timeout":   manager.GetTimeout(name).String(),
			"stats":     manager.GetStats(name),
			"breaker":   manager.BreakerSnapshot(name),
		}
		if om, ok := monitor.GetOperationMetrics(name); ok {
			response["metrics"] = gin.H{
				"total_calls":      om.TotalCalls,
				"successful_calls": om.SuccessfulCalls,
				"failed_calls":     om.FailedCalls,
				"timeout_calls":    om.TimeoutCalls,
				"success_rate":     om.SuccessRate(),
				"average_time":     om.AverageTime().String(),
				"recent_average":   om.RecentAverageTime().String(),
			}
		}
		c.JSON(http.StatusOK, response)
	}
}

func listBreakers(manager *resilience.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"breakers": manager.BreakerSnapshots()})
	}
}

func listAlerts(monitor *perf.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		alerts := monitor.GetPerformanceAlerts()
		c.JSON(http.StatusOK, gin.H{
			"alerts": alerts,
			"count":  len(alerts),
		})
	}
}

func getSummary(monitor *perf.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, monitor.GetSummaryStats())
	}
}

func recentTimeouts(monitor *perf.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"timeout_events": monitor.RecentTimeoutEvents(50)})
	}
}

func getReport(monitor *perf.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		if err := monitor.WriteReport(&buf); err != nil {
			respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
	}
}

func getReportPDF(monitor *perf.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		if err := monitor.WriteReportPDF(&buf); err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=performance_report.pdf")
		c.Data(http.StatusOK, "application/pdf", buf.Bytes())
	}
}

// respondError maps application error types to HTTP status codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.GetType(err) {
	case errors.ErrorTypeValidation:
		status = http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrorTypeConflict:
		status = http.StatusConflict
	case errors.ErrorTypeTimeout:
		status = http.StatusGatewayTimeout
	case errors.ErrorTypeRejected:
		status = http.StatusServiceUnavailable
	}

	if errors.IsTimeoutExceeded(err) {
		status = http.StatusGatewayTimeout
	}
	if errors.IsCircuitOpen(err) {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}
