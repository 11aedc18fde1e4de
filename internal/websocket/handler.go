package websocket

import (
	"context"
	"net/http"

	"github.com/dennisdiepolder/monti/callrouter/internal/auth"
	"github.com/dennisdiepolder/monti/callrouter/internal/config"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler handles WebSocket upgrade requests for one role
type Handler struct {
	hub      *Hub
	gateway  Gateway
	role     types.Role
	upgrader websocket.Upgrader
	config   *config.Config
	logger   zerolog.Logger
}

// NewVisitorHandler serves the unauthenticated widget socket
func NewVisitorHandler(hub *Hub, gateway Gateway, cfg *config.Config, logger zerolog.Logger) *Handler {
	return newHandler(hub, gateway, types.RoleVisitor, cfg, logger)
}

// NewAgentHandler serves the agent socket; it must sit behind auth.Middleware
func NewAgentHandler(hub *Hub, gateway Gateway, cfg *config.Config, logger zerolog.Logger) *Handler {
	return newHandler(hub, gateway, types.RoleAgent, cfg, logger)
}

func newHandler(hub *Hub, gateway Gateway, role types.Role, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:     hub,
		gateway: gateway,
		role:    role,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		config: cfg,
		logger: logger.With().Str("component", "websocket").Logger(),
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients), any origin when "*" is configured, and otherwise only the
// listed origins
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	companyID, identity := r.URL.Query().Get("companyId"), ""
	if h.role == types.RoleAgent {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		// Tokens without agent claims (dev mode) identify via register-agent
		if claims.CompanyID != "" {
			companyID = claims.CompanyID
		}
		identity = claims.AgentHandle
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	// Create new client
	client := NewClient(h.hub, h.gateway, conn, h.role, h.config, h.logger)

	// Register with the engine before any frame can arrive
	if err := h.gateway.Opened(context.Background(), client.ID(), h.role, companyID, identity); err != nil {
		h.logger.Error().Err(err).Msg("failed to register connection")
		conn.Close()
		return
	}

	h.hub.Register(client)

	// Start client pumps
	client.Start()
}
