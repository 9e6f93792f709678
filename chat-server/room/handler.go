package room

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// AuthSubprotocol is the first websocket subprotocol a client offers; the
// second one carries its access token.
const AuthSubprotocol = "authorization"

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ctxKey struct{}

// ClaimsFromContext returns the claims attached by the bearer middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

type server struct {
	hub      *Hub
	tokens   *TokenIssuer
	upgrader websocket.Upgrader
}

// NewHandler builds the chat HTTP router: room listing, room history and
// the per-room websocket endpoint.
func NewHandler(h *Hub, tokens *TokenIssuer) http.Handler {
	s := &server{
		hub:    h,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{AuthSubprotocol},
		},
	}
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api/chat", func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Get("/rooms/", s.handleRooms)
		r.Get("/rooms/{room}/messages/", s.handleMessages)
	})
	r.Get("/ws/chat/{room}/", s.handleWS)
	return r
}

func (s *server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			sendJSONError(w, "authentication credentials were not provided", http.StatusUnauthorized)
			return
		}
		claims, err := s.tokens.Validate(strings.TrimSpace(raw))
		if err != nil {
			sendJSONError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}

func (s *server) handleRooms(w http.ResponseWriter, r *http.Request) {
	sendJSONResponse(w, apiResponse{Status: "success", Data: s.hub.Rooms()})
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	name, ok := roomParam(r)
	if !ok {
		sendJSONError(w, "invalid room name", http.StatusBadRequest)
		return
	}
	sendJSONResponse(w, apiResponse{Status: "success", Data: s.hub.History(name)})
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	name, ok := roomParam(r)
	if !ok {
		http.Error(w, "invalid room name", http.StatusBadRequest)
		return
	}
	protocols := websocket.Subprotocols(r)
	if len(protocols) < 2 || protocols[0] != AuthSubprotocol {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	claims, err := s.tokens.Validate(protocols[1])
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	username := SanitizeUsername(claims.Username)
	if username == "" {
		http.Error(w, "invalid username", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.logger.Debug().Err(err).Msg("[chat] upgrade failed")
		return
	}
	newClient(s.hub, conn, name, username).serve()
}

// roomParam returns the unescaped room name of the request path.
func roomParam(r *http.Request) (string, bool) {
	name, err := url.PathUnescape(chi.URLParam(r, "room"))
	if err != nil {
		return "", false
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsRune(name, 0) || len(name) > 100 {
		return "", false
	}
	return name, true
}

func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body, _ := encodeJSON(apiResponse{Status: "error", Message: message})
	_, _ = w.Write(body)
}

func sendJSONResponse(w http.ResponseWriter, data apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	body, err := encodeJSON(data)
	if err != nil {
		sendJSONError(w, "encode response", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}
