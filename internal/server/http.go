package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wagerhall/wager-server/internal/config"
)

// RouterConfig holds the dependencies of the HTTP router.
type RouterConfig struct {
	// BaseContext is handed to every websocket request handler. It is
	// cancelled on shutdown.
	BaseContext context.Context
	Logger      *zap.Logger
	Sessions    Sessions
	Hub         *Hub
	Dispatcher  *Dispatcher
	WebSocket   config.WebSocketConfig
}

// NewRouter builds the HTTP surface: health, the available-session listing
// and the websocket endpoint.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}

	r := mux.NewRouter()
	r.Use(Recovery(cfg.Logger))
	r.Use(Logging(cfg.Logger))

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions/available", availableHandler(cfg.Sessions)).Methods(http.MethodGet)

	ws := &wsHandler{
		ctx:        cfg.BaseContext,
		hub:        cfg.Hub,
		dispatcher: cfg.Dispatcher,
		cfg:        cfg.WebSocket,
		logger:     cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.WebSocket.AllowedOrigins),
		},
	}
	r.Handle(cfg.WebSocket.Path, ws).Methods(http.MethodGet)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AvailableSession is one entry of the lobby listing.
type AvailableSession struct {
	ID        string    `json:"id"`
	WhiteName string    `json:"whiteName"`
	Wager     int       `json:"wager"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func availableHandler(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		waiting := sessions.ListWaiting()
		out := make([]AvailableSession, 0, len(waiting))
		for _, s := range waiting {
			out = append(out, AvailableSession{
				ID:        s.ID,
				WhiteName: s.WhiteName,
				Wager:     s.Wager,
				Status:    s.Status.String(),
				CreatedAt: s.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type wsHandler struct {
	ctx        context.Context
	hub        *Hub
	dispatcher *Dispatcher
	cfg        config.WebSocketConfig
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	client := newClient(uuid.NewString(), conn, h.cfg, h.logger)
	h.hub.register(client)
	h.logger.Info("client connected",
		zap.String("conn_id", client.id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	go client.writePump()
	go client.readPump(h.ctx, h.hub, h.dispatcher)
}

// originChecker allows requests whose Origin is in allowed. "*" allows all,
// as does a missing Origin header (non-browser clients).
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
