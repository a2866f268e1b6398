// Package api exposes the relay's read-only HTTP surface next to the websocket endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"roomrelay/internal/websocket"
	"roomrelay/pkg/interfaces"
	applog "roomrelay/pkg/log"
	"roomrelay/pkg/types"
)

// PresenceReader is the part of the presence tracker the API reads.
type PresenceReader interface {
	Counts() map[string]int
	Participants() int
}

// Registry interface to avoid tight coupling to websocket.Registry.
type Registry interface {
	Stats() websocket.RegistryStats
}

// HubStats reports event loop progress.
type HubStats interface {
	Processed() uint64
	QueueLength() int
}

// Dependencies are the components the HTTP API reads from.
type Dependencies struct {
	Rooms     []string
	Presence  PresenceReader
	Directory interfaces.ParticipantDirectory
	Store     interfaces.MessageStore
	Registry  Registry
	Hub       HubStats
	WebSocket http.Handler
	Logger    zerolog.Logger
}

// Server serves HTTP only; it holds no relay logic of its own.
type Server struct {
	rooms     []string
	roomSet   map[string]struct{}
	presence  PresenceReader
	directory interfaces.ParticipantDirectory
	store     interfaces.MessageStore
	registry  Registry
	hub       HubStats
	started   time.Time
	router    *mux.Router
}

// NewServer wires routes for the given dependencies.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		rooms:     deps.Rooms,
		roomSet:   lo.SliceToMap(deps.Rooms, func(room string) (string, struct{}) { return room, struct{}{} }),
		presence:  deps.Presence,
		directory: deps.Directory,
		store:     deps.Store,
		registry:  deps.Registry,
		hub:       deps.Hub,
		started:   time.Now(),
		router:    mux.NewRouter(),
	}

	s.setupRoutes(deps.WebSocket, deps.Logger)
	return s
}

func (s *Server) setupRoutes(ws http.Handler, logger zerolog.Logger) {
	s.router.Use(applog.HTTPMiddleware(logger))
	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)

	if ws != nil {
		s.router.Handle("/ws", ws).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware, jsonMiddleware)
	// Subrouters report their own misses; the root handlers never see them.
	api.NotFoundHandler = s.router.NotFoundHandler
	api.MethodNotAllowedHandler = s.router.MethodNotAllowedHandler
	api.HandleFunc("/rooms", s.listRooms).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/rooms/{room}/history", s.roomHistory).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stats", s.stats).Methods(http.MethodGet, http.MethodOptions)

	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RoomSummary is one entry of GET /api/rooms.
type RoomSummary struct {
	Name      string `json:"name"`
	UserCount int    `json:"userCount"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Connections      int     `json:"connections"`
	BoundConnections int     `json:"boundConnections"`
	Identities       int     `json:"identities"`
	Participants     int     `json:"participants"`
	PresentUsers     int     `json:"presentUsers"`
	ActiveRooms      int     `json:"activeRooms"`
	ConfiguredRooms  int     `json:"configuredRooms"`
	EventsProcessed  uint64  `json:"eventsProcessed"`
	QueueLength      int     `json:"queueLength"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Store     string    `json:"store"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// listRooms returns every configured room in configured order.
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	counts := s.presence.Counts()
	rooms := lo.Map(s.rooms, func(room string, _ int) RoomSummary {
		return RoomSummary{Name: room, UserCount: counts[room]}
	})
	s.writeJSON(w, r, http.StatusOK, rooms)
}

// roomHistory returns one section log. section defaults to chat.
func (s *Server) roomHistory(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	if _, ok := s.roomSet[room]; !ok {
		s.sendError(w, r, "Room not found", http.StatusNotFound)
		return
	}

	section := types.Section(r.URL.Query().Get("section"))
	if section == "" {
		section = types.SectionChat
	}
	if !types.IsValidSection(section) {
		s.sendError(w, r, "section must be chat or media", http.StatusBadRequest)
		return
	}

	messages, err := s.store.History(r.Context(), room, section)
	if err != nil {
		l := applog.Ctx(r.Context())
		l.Error().Err(err).Str(applog.FieldRoom, room).Msg("failed to read history")
		s.sendError(w, r, "Failed to read history", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, r, http.StatusOK, messages)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	reg := s.registry.Stats()
	counts := s.presence.Counts()
	active := lo.CountBy(s.rooms, func(room string) bool { return counts[room] > 0 })

	resp := StatsResponse{
		Connections:      reg.Connections,
		BoundConnections: reg.Bound,
		Identities:       reg.Identities,
		Participants:     s.directory.Count(),
		PresentUsers:     s.presence.Participants(),
		ActiveRooms:      active,
		ConfiguredRooms:  len(s.rooms),
		UptimeSeconds:    time.Since(s.started).Seconds(),
	}
	if s.hub != nil {
		resp.EventsProcessed = s.hub.Processed()
		resp.QueueLength = s.hub.QueueLength()
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

// healthCheck returns 503 when the message store cannot serve reads.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Timestamp: time.Now(), Store: "ok"}
	code := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Store = err.Error()
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, code, resp)
}

// Router middleware does not run for unmatched requests, so these set the
// content type themselves.
func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.sendError(w, r, "No route for "+r.URL.Path, http.StatusNotFound)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.sendError(w, r, r.Method+" is not allowed on "+r.URL.Path, http.StatusMethodNotAllowed)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l := applog.Ctx(r.Context())
		l.Warn().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, message string, code int) {
	s.writeJSON(w, r, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows browser clients on any origin to read the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
