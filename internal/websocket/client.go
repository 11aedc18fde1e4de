package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/config"
	"github.com/dennisdiepolder/monti/callrouter/internal/metrics"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Gateway receives connection lifecycle and raw inbound frames
type Gateway interface {
	Opened(ctx context.Context, connID string, role types.Role, companyID, identity string) error
	Closed(ctx context.Context, connID string) error
	HandleFrame(ctx context.Context, connID string, raw []byte) error
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// Unique connection ID
	id string

	// Visitor or agent
	role types.Role

	// The hub this client belongs to
	hub *Hub

	// Where inbound frames go
	gateway Gateway

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Configuration
	config *config.Config

	// Logger
	logger zerolog.Logger
}

// NewClient creates a new Client
func NewClient(hub *Hub, gateway Gateway, conn *websocket.Conn, role types.Role, cfg *config.Config, logger zerolog.Logger) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:      clientID,
		role:    role,
		hub:     hub,
		gateway: gateway,
		conn:    conn,
		send:    make(chan []byte, 256),
		config:  cfg,
		logger:  logger.With().Str("connection_id", clientID).Str("role", string(role)).Logger(),
	}
}

// ID returns the connection id handed to the widget in the welcome frame
func (c *Client) ID() string {
	return c.id
}

// readPump pumps frames from the websocket connection to the gateway
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		if err := c.gateway.Closed(context.Background(), c.id); err != nil {
			c.logger.Warn().Err(err).Msg("failed to report connection close")
		}
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
				metrics.Get().RecordWebSocketError()
			}
			break
		}
		metrics.Get().RecordWebSocketMessage()

		if err := c.gateway.HandleFrame(context.Background(), c.id, message); err != nil {
			c.reject(err)
		}
	}
}

// reject tells the origin why its frame was dropped
func (c *Client) reject(err error) {
	msg := types.ErrorMessage{Type: types.MsgError, Reason: err.Error()}

	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		msg.Event = verr.Event
		c.logger.Debug().Err(err).Msg("dropped invalid frame")
	case errors.Is(err, types.ErrNotFound):
		c.logger.Debug().Err(err).Msg("dropped frame for unknown company")
	default:
		c.logger.Warn().Err(err).Msg("failed to handle frame")
	}

	data, mErr := json.Marshal(msg)
	if mErr != nil {
		c.logger.Error().Err(mErr).Msg("failed to marshal error frame")
		return
	}
	c.hub.Send(c.id, data)
}

// writePump pumps messages from the hub to the websocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per message; clients parse each frame as a single JSON document
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start sends the welcome frame and starts the client's read and write pumps
func (c *Client) Start() {
	welcome, err := json.Marshal(types.Connected{Type: types.MsgConnected, ConnectionID: c.id})
	if err == nil {
		c.hub.Send(c.id, welcome)
	}
	go c.writePump()
	go c.readPump()
}
