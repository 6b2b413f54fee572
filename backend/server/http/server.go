package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"presence/backend/model"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	maxBodySize = 1 << 20
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type PresenceService interface {
	Join(ctx context.Context, remoteIP string, wire *model.Wire) *model.Participant
	Leave(id string, wire *model.Wire)
	Move(id string, x, y float64) bool
	ReportLocation(id string, loc model.Location) bool
}

type MoveRequest struct {
	ID string   `json:"id"`
	X  *float64 `json:"x"`
	Y  *float64 `json:"y"`
}

type LocationRequest struct {
	ID       string          `json:"id"`
	Location *model.Location `json:"location"`
}

type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type Server struct {
	logger zerolog.Logger
	svc    PresenceService
	*http.Server
}

type Config struct {
	Logger          *zerolog.Logger
	PresenceService PresenceService
	ListenAddr      string
	// StaticDir, when set, is served at the root path for the bundled
	// frontend. The presence core does not depend on it.
	StaticDir string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.PresenceService,
	}

	r := http.NewServeMux()
	r.HandleFunc("GET /events", srv.events)
	r.HandleFunc("POST /move", srv.move)
	r.HandleFunc("POST /location", srv.reportLocation)
	r.HandleFunc("OPTIONS /", corsHandler)
	if cfg.StaticDir != "" {
		r.Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// events is the long-lived admission stream. The participant exists for
// exactly as long as this request does: teardown runs when the client goes
// away or when the hub drops the wire as a stalled consumer.
func (srv *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "retry: 500\n\n")
	flusher.Flush()

	wire := model.NewWire(model.DefaultWireBuffer)
	user := srv.svc.Join(r.Context(), clientIP(r), wire)

	logger := srv.logger.With().Str("userID", user.ID).Logger()
	logger.Debug().Msg("event stream opened")
	defer func() {
		srv.svc.Leave(user.ID, wire)
		logger.Debug().Msg("event stream closed")
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-wire.Dropped():
			return
		case b := <-wire.TX:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				logger.Debug().Err(err).Msg("event write failed")
				return
			}
			flusher.Flush()
		}
	}
}

func (srv *Server) move(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	var req MoveRequest
	if !srv.decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" || req.X == nil || req.Y == nil || !finite(*req.X) || !finite(*req.Y) {
		srv.clientError(w, "Invalid payload")
		return
	}
	if !srv.svc.Move(req.ID, *req.X, *req.Y) {
		srv.clientError(w, "Invalid payload")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// reportLocation is the client-assisted location path. Unrecognized shapes
// are dropped rather than errored so a cosmetic feature cannot break the
// stream.
func (srv *Server) reportLocation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	var req LocationRequest
	if !srv.decodeBody(w, r, &req) {
		return
	}
	if req.ID != "" && req.Location != nil && req.Location.Valid() {
		_ = srv.svc.ReportLocation(req.ID, *req.Location)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil || json.Unmarshal(body, v) != nil {
		srv.clientError(w, "Bad JSON body")
		return false
	}
	return true
}

func (srv *Server) clientError(w http.ResponseWriter, msg string) {
	b, err := json.Marshal(&ErrorResponse{Error: msg})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBytes(w, http.StatusBadRequest, b)
}

func writeBytes(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
