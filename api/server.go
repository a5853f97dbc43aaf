// Package api implements the HTTP surface: health, dashboard, trades,
// broker-limits, export, and the Prometheus scrape endpoint.
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relvacode/iso8601"

	"b5engine/factor"
	"b5engine/logger"
	"b5engine/markettime"
	"b5engine/metrics"
	"b5engine/papertrade"
	"b5engine/view"
)

// Health carries the trade-mode/live-trading flags the health endpoint
// reports; set once at startup from config and never mutated.
type Health struct {
	TradeMode string
	LiveEnabled bool
}

// Server wires the view layer into gin routes.
type Server struct {
	view      *view.Service
	health    Health
	exportDir string
	router    *gin.Engine
}

func New(v *view.Service, health Health, exportDir string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	s := &Server{view: v, health: health, exportDir: exportDir, router: r}
	s.routes()
	return s
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.GET("/api/dashboard", s.handleDashboard)
	s.router.GET("/api/trades", s.handleTrades)
	s.router.GET("/api/broker-limits", s.handleBrokerLimits)
	s.router.GET("/api/export", s.handleExport)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("http: %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	now := markettime.Now()
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"trade_mode":   s.health.TradeMode,
		"live_enabled": s.health.LiveEnabled,
		"ist_time":     markettime.FormatIST(now),
		"ist_datetime": markettime.FormatISTDateTime(now),
	})
}

func (s *Server) handleDashboard(c *gin.Context) {
	params := view.DashboardParams{
		Timeframe:    c.DefaultQuery("tf", "5m"),
		Factor:       factor.Name(c.DefaultQuery("factor", "smart")),
		Query:        c.Query("q"),
		CompleteOnly: c.Query("complete") == "1",
		TriggerOnly:  c.DefaultQuery("trigger_only", "1") != "0",
		Limit:        atoiDefault(c.Query("limit"), 0),
	}
	resp := s.view.Dashboard(params)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTrades(c *gin.Context) {
	params := view.TradesParams{
		OpenLimit:   atoiDefault(c.Query("open_limit"), 500),
		ClosedLimit: atoiDefault(c.Query("closed_limit"), 1000),
		Query:       c.Query("q"),
	}
	resp := s.view.Trades(params)

	if since := c.Query("since"); since != "" {
		t, err := iso8601.ParseString(since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since: " + err.Error()})
			return
		}
		resp.RecentClosed = filterSince(resp.RecentClosed, t.Unix())
	}

	c.JSON(http.StatusOK, resp)
}

// filterSince keeps only trades that exited at or after cutoff.
func filterSince(trades []*papertrade.Trade, cutoff int64) []*papertrade.Trade {
	out := make([]*papertrade.Trade, 0, len(trades))
	for _, t := range trades {
		if t.ExitTS >= cutoff {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) handleBrokerLimits(c *gin.Context) {
	day := c.Query("day")
	snap, err := s.view.BrokerSnapshot(day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleExport(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "json" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or json"})
		return
	}
	status := c.DefaultQuery("status", "all")

	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export dir: " + err.Error()})
		return
	}

	trades, err := s.view.ExportTrades(status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := markettime.Today() + "-" + format + "." + format
	fullPath := filepath.Join(s.exportDir, filename)

	var writeErr error
	if format == "csv" {
		writeErr = writeTradesCSV(fullPath, trades)
	} else {
		writeErr = writeTradesJSON(fullPath, trades)
	}
	if writeErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": writeErr.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"filename":     filename,
		"count":        len(trades),
		"download_url": "/exports/" + filename,
	})
}

// StaticExports registers the exports directory as a static file route.
func (s *Server) StaticExports() {
	s.router.Static("/exports", s.exportDir)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
