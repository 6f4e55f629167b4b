// Package diag provides the built-in diagnostic handlers: route index,
// health, metrics, runtime info, configuration dump, file explorer and
// SQLite browser, plus static responses declared in configuration.
package diag

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/diagscope/diagscope/internal/adapter/outbound/sqlite"
	"github.com/diagscope/diagscope/internal/config"
	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/route"
)

// Paths polled by monitoring rather than people. Transports usually leave
// them out of request metrics.
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// RuleCompiler turns a match expression into a route rule.
type RuleCompiler interface {
	Rule(expr string) (route.Rule, error)
}

// Deps are the collaborators of the built-in handlers. Nil fields disable
// the handlers that need them.
type Deps struct {
	Logger    *slog.Logger
	Version   string
	StartedAt time.Time

	Health    *HealthChecker
	Gatherer  prometheus.Gatherer
	Config    any
	Files     *Explorer
	Databases *sqlite.Browser

	// Routes are static responses; Rules compiles their match expressions.
	Routes []config.RouteConfig
	Rules  RuleCompiler
}

// Register adds the diagnostic handlers to r. Configured static routes are
// registered first, so at equal priority they shadow the built-ins.
func Register(r *route.Router, d Deps) error {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}

	if err := registerStatic(r, d.Routes, d.Rules); err != nil {
		return err
	}

	type handle struct {
		method, path string
		resp         response.Response
	}
	handles := []handle{
		{http.MethodGet, "/", indexHandler(r, d.Version)},
		{http.MethodGet, "/api/info", infoHandler(d.Version, d.StartedAt)},
	}
	if d.Health != nil {
		handles = append(handles, handle{http.MethodGet, HealthPath, d.Health})
	}
	if d.Gatherer != nil {
		handles = append(handles, handle{http.MethodGet, MetricsPath, metricsHandler(d.Gatherer)})
	}
	if d.Config != nil {
		handles = append(handles, handle{http.MethodGet, "/api/config", configHandler(d.Config)})
	}
	if d.Files != nil {
		handles = append(handles,
			handle{http.MethodGet, "/api/files", d.Files.listHandler()},
			handle{http.MethodDelete, "/api/files", d.Files.deleteHandler()},
			handle{http.MethodGet, "/api/files/download", d.Files.downloadHandler()},
		)
	}
	if d.Databases != nil {
		db := databaseHandlers{browser: d.Databases}
		handles = append(handles,
			handle{http.MethodGet, "/api/databases", db.list()},
			handle{http.MethodGet, "/api/databases/tables", db.tables()},
			handle{http.MethodGet, "/api/databases/rows", db.rows()},
			handle{http.MethodGet, "/api/databases/query", db.query()},
		)
	}

	for _, h := range handles {
		if err := r.HandleMethod(h.method, h.path, h.resp); err != nil {
			return fmt.Errorf("register %s %s: %w", h.method, h.path, err)
		}
	}

	d.Logger.Debug("diagnostic handlers registered",
		"handlers", len(handles),
		"static_routes", len(d.Routes),
	)
	return nil
}

func registerStatic(r *route.Router, routes []config.RouteConfig, rules RuleCompiler) error {
	if len(routes) == 0 {
		return nil
	}
	if rules == nil {
		return fmt.Errorf("%d static routes configured but no rule compiler", len(routes))
	}

	for _, rc := range routes {
		rule, err := rules.Rule(rc.Match)
		if err != nil {
			return fmt.Errorf("route %q: %w", rc.Name, err)
		}
		status := rc.Status
		if status == 0 {
			status = http.StatusOK
		}
		mimeType := rc.MIMEType
		if mimeType == "" {
			mimeType = response.MIMEPlainText
		}
		resp := response.Cached(response.Static{Status: status, MIMEType: mimeType, Body: []byte(rc.Body)})
		if err := r.Register(rc.Name, rule, resp, route.WithPriority(rc.Priority)); err != nil {
			return err
		}
	}
	return nil
}
