package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/facade"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

// inboundFrameRateLimit and inboundFrameBurst bound how fast a single
// connection's WINDOW_STATE_UPDATE frames are accepted. Grounded on the
// teacher's internal/server.apiLimiter (rate.NewLimiter(rate.Limit(100),
// 200) guarding its HTTP API routes) — generalized from one limiter shared
// across every HTTP request to one limiter per websocket connection, since
// a misbehaving host-shell connection should only throttle itself.
const (
	inboundFrameRateLimit rate.Limit = 50
	inboundFrameBurst                = 100
)

// allowedOriginPrefixes is the CSWSH guard from the teacher's
// internal/server.upgrader, unchanged: loopback origins only, since the host
// shell is a desktop app's embedded webview rather than a public site.
var allowedOriginPrefixes = []string{
	"http://127.0.0.1",
	"http://localhost",
	"https://127.0.0.1",
	"https://localhost",
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range allowedOriginPrefixes {
			if origin == allowed || strings.HasPrefix(origin, allowed+":") {
				return true
			}
		}
		return false
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// inboundMessage is the wire envelope for an inbound WINDOW_STATE_UPDATE
// frame, per spec.md §6.
type inboundMessage struct {
	Type        string               `json:"type"`
	Descriptors []wireDescriptor     `json:"descriptors"`
}

type wireDescriptor struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	ZIndex      int    `json:"zIndex"`
	IsFocused   bool   `json:"isFocused"`
	IsMinimized bool   `json:"isMinimized"`
	Payload     struct {
		FreezeState string `json:"freezeState"`
	} `json:"payload"`
}

func parseFreezeKind(raw string) types.FreezeKind {
	switch raw {
	case "CAPTURING":
		return types.FreezeCapturing
	case "AWAITING_RENDER":
		return types.FreezeAwaitingRender
	case "FROZEN":
		return types.FreezeFrozen
	default:
		return types.FreezeActive
	}
}

// Server is the websocket listener the host shell connects to: one endpoint
// for both directions, symmetric with the teacher's single /ws route.
type Server struct {
	hub    *Hub
	facade *facade.Service
	log    *zap.Logger
	http   *http.Server
}

// NewServer constructs a Server listening on addr. facadeSvc receives every
// inbound WINDOW_STATE_UPDATE frame; callers wire hub.BroadcastOutboundUpdate
// as the stateservice.Outbound callback passed to stateservice.New.
func NewServer(addr string, hub *Hub, facadeSvc *facade.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{hub: hub, facade: facadeSvc, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving the websocket endpoint until the server is
// shut down or a non-shutdown error occurs.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	limiter := rate.NewLimiter(inboundFrameRateLimit, inboundFrameBurst)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !limiter.Allow() {
			s.log.Debug("dropping inbound frame, rate limit exceeded", zap.String("remote", conn.RemoteAddr().String()))
			continue
		}
		s.handleInboundFrame(raw)
	}
}

func (s *Server) handleInboundFrame(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Debug("dropping unparsable inbound frame", zap.Error(err))
		return
	}
	if msg.Type != "WINDOW_STATE_UPDATE" {
		return
	}

	descriptors := make([]facade.WindowDescriptor, 0, len(msg.Descriptors))
	for _, d := range msg.Descriptors {
		descriptors = append(descriptors, facade.WindowDescriptor{
			ID:          types.WindowId(d.ID),
			Type:        d.Type,
			ZIndex:      d.ZIndex,
			IsFocused:   d.IsFocused,
			IsMinimized: d.IsMinimized,
			Payload:     facade.WindowDescriptorPayload{FreezeState: parseFreezeKind(d.Payload.FreezeState)},
		})
	}
	s.facade.HandleWindowStateUpdate(context.Background(), descriptors)
}
