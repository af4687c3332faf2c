package api

import (
	"context"
	"net/http"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	mcpapi "github.com/recollectco/recollect/api/mcp"
	"github.com/recollectco/recollect/pkg/identity"
	"github.com/recollectco/recollect/pkg/ledger"
)

// Storer is the ledger surface the API server needs: the read helpers from
// ledger.Driver plus the admin operations on users, apps and access rules.
type Storer interface {
	ledger.Driver

	UserByExternalID(ctx context.Context, externalID string) (*ledger.User, error)
	Apps(ctx context.Context) ([]*ledger.App, error)
	SetAppActive(ctx context.Context, appID uuid.UUID, active bool) error
	PutAccessRule(ctx context.Context, r *ledger.AccessRule) error
}

// Server is the API server for inspecting and managing the memory ledger.
type Server struct {
	config Config
	storer Storer
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The storer is injected to allow sharing with other components
// (e.g., the MCP tool service).
func NewServer(config Config, storer Storer, mcpHandler http.Handler, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		storer: storer,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/memories/:user_id", s.handleListMemories)
	app.Get("/memories/:user_id/:memory_id", s.handleGetMemory)
	app.Get("/memories/:user_id/:memory_id/history", s.handleGetHistory)
	app.Get("/access-logs/:user_id", s.handleListAccessLogs)
	app.Get("/apps", s.handleListApps)
	app.Post("/apps/:app_id/pause", s.handlePauseApp)
	app.Post("/apps/:app_id/resume", s.handleResumeApp)
	app.Post("/apps/:app_id/rules", s.handleCreateRule)

	if mcpHandler != nil {
		app.All("/mcp/:client_name/sse/:user_id", mountMCP(mcpHandler))
		app.All("/mcp/:client_name/sse/:user_id/*", mountMCP(mcpHandler))
	}

	return s
}

// mountMCP adapts the MCP streamable HTTP handler into a fiber handler,
// binding the caller identity from the route parameters into the request
// context so tool handlers can recover it.
func mountMCP(h http.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := identity.Caller{
			UserID:     c.Params("user_id"),
			ClientName: c.Params("client_name"),
		}
		return adaptor.HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.ServeHTTP(w, r.WithContext(mcpapi.WithCaller(r.Context(), caller)))
		}))(c)
	}
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
