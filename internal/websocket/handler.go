package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"roomrelay/pkg/interfaces"
	applog "roomrelay/pkg/log"
	"roomrelay/pkg/types"
)

// EventSubmitter receives decoded inbound events and disconnects. The hub
// implements it; Submit may block until the event is queued.
type EventSubmitter interface {
	Submit(ctx context.Context, conn interfaces.Connection, envelope types.Envelope) error
	Disconnect(conn interfaces.Connection) error
}

// HandlerConfig holds the transport settings for accepted sockets.
type HandlerConfig struct {
	AllowedOrigins []string
	PongWait       time.Duration
	MaxMessageSize int64
	Connection     ConnectionOptions
}

// DefaultHandlerConfig accepts any origin.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		AllowedOrigins: []string{"*"},
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 * 1024,
		Connection:     DefaultConnectionOptions,
	}
}

// InvalidEventMessage is sent when a frame is not a decodable envelope.
const InvalidEventMessage = "Invalid event"

// Handler upgrades HTTP requests to websockets and pumps frames into the hub.
type Handler struct {
	registry  *Registry
	submitter EventSubmitter
	config    HandlerConfig
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(registry *Registry, submitter EventSubmitter, config HandlerConfig, logger zerolog.Logger) *Handler {
	h := &Handler{
		registry:  registry,
		submitter: submitter,
		config:    config,
		logger:    logger,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || lo.Contains(h.config.AllowedOrigins, "*") {
		return true
	}
	return lo.Contains(h.config.AllowedOrigins, origin)
}

// HandleWebSocket accepts a connection. Identity is established later by a
// join event, so no query parameters are required.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str(applog.FieldClientIP, applog.ClientIP(r)).Msg("websocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, h.config.Connection)
	if err := h.registry.Register(wsConn); err != nil {
		h.logger.Error().Err(err).Msg("failed to register connection")
		_ = wsConn.Close()
		return
	}

	logger := h.logger.With().
		Str(applog.FieldConnID, wsConn.ID()).
		Str(applog.FieldClientIP, applog.ClientIP(r)).
		Logger()
	logger.Debug().Msg("connection accepted")

	go h.readPump(applog.WithLogger(context.Background(), logger), wsConn)
}

// readPump decodes frames until the socket fails, then reports the disconnect.
func (h *Handler) readPump(ctx context.Context, conn *Connection) {
	logger := applog.Ctx(ctx)

	defer func() {
		if err := h.submitter.Disconnect(conn); err != nil {
			// The hub is gone; drop the registry entry directly.
			h.registry.Unregister(conn.ID())
			logger.Debug().Err(err).Msg("disconnect not delivered to hub")
		}
		_ = conn.Close()
		logger.Debug().Msg("connection closed")
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var envelope types.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Event == "" {
			logger.Debug().Err(err).Msg("invalid envelope")
			if werr := conn.WriteJSON(types.OutboundEnvelope{
				Event: types.EventError,
				Data:  types.ErrorPayload{Message: InvalidEventMessage},
			}); werr != nil && !errors.Is(werr, ErrConnectionClosed) {
				logger.Warn().Err(werr).Msg("failed to send error")
			}
			continue
		}

		if err := h.submitter.Submit(ctx, conn, envelope); err != nil {
			logger.Warn().Err(err).Str(applog.FieldEvent, envelope.Event).Msg("event not accepted by hub")
			return
		}
	}
}
