// Package httpapi exposes the reader-mediation operations over a small
// JSON HTTP surface, routed with gorilla/mux and wrapped in rs/cors.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"

	"github.com/bookwaves/libreader/internal/protocol"
	"github.com/bookwaves/libreader/internal/registry"
	"github.com/bookwaves/libreader/internal/session"
	"github.com/bookwaves/libreader/internal/tag"
)

// Server is the HTTP surface over a reader registry and mutation engine.
type Server struct {
	addr          string
	reg           *registry.Registry
	eng           *protocol.Engine
	log           *slog.Logger
	defaultFormat string
	http          *http.Server
}

func New(addr string, reg *registry.Registry, eng *protocol.Engine, log *slog.Logger, defaultFormat string) *Server {
	s := &Server{addr: addr, reg: reg, eng: eng, log: log, defaultFormat: defaultFormat}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/test", s.handleTest).Methods(http.MethodGet)
	r.HandleFunc("/readers", s.handleReaders).Methods(http.MethodGet)
	r.HandleFunc("/inventory/{name}", s.handleInventory).Methods(http.MethodGet)
	r.HandleFunc("/initialize/{name}", s.handleInitialize).Methods(http.MethodPost)
	r.HandleFunc("/edit/{name}", s.handleEdit).Methods(http.MethodPost)
	r.HandleFunc("/clear/{name}", s.handleClear).Methods(http.MethodPost)
	r.HandleFunc("/secure/{name}", s.handleSecure).Methods(http.MethodPost)
	r.HandleFunc("/unsecure/{name}", s.handleUnsecure).Methods(http.MethodPost)
	r.HandleFunc("/analyze/{name}", s.handleAnalyze).Methods(http.MethodGet)
	r.HandleFunc("/notification/start/{name}", s.handleNotificationStart).Methods(http.MethodPost)
	r.HandleFunc("/notification/stop/{name}", s.handleNotificationStop).Methods(http.MethodPost)
	r.HandleFunc("/notification/events/{name}", s.handleNotificationEvents).Methods(http.MethodGet)
	r.HandleFunc("/notification/status", s.handleNotificationStatus).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedMethods:  []string{http.MethodGet, http.MethodPost},
		AllowOriginFunc: func(string) bool { return true },
	}).Handler(r)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down with a 5-second grace
// period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeText renders a plain-text body, matching the Java original's
// ctx.result(...) responses for "/" and "/test".
func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

// writeSuccess merges fields flat at the top level alongside "success":
// true, matching the original's Map.of("success", true, ...) shape.
func writeSuccess(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// statusFor maps a protocol/session error to an HTTP status code per spec
// §7's envelope rules.
func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrNoTagInField),
		errors.Is(err, protocol.ErrMultiTagInField),
		errors.Is(err, protocol.ErrInvalidMediaID),
		errors.Is(err, protocol.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrOperationInterrupted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session.ManagedSession, bool) {
	name := mux.Vars(r)["name"]
	sess, ok := s.reg.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, errors.Errorf("Reader not found: %s", name))
		return nil, false
	}
	return sess, true
}

// requireQueryParam reads a required query-string parameter, writing a 400
// response and returning ok=false if it is missing or empty.
func requireQueryParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		writeError(w, http.StatusBadRequest, errors.Errorf("Missing '%s' query parameter", key))
		return "", false
	}
	return v, true
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeText(w, "Hello Feig!")
}

func (s *Server) handleTest(w http.ResponseWriter, _ *http.Request) {
	writeText(w, "Test successful")
}

func (s *Server) handleReaders(w http.ResponseWriter, _ *http.Request) {
	names := s.reg.Names()
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		sess, ok := s.reg.Get(name)
		if !ok {
			continue
		}
		cfg := sess.Config()
		info := map[string]any{
			"name":               cfg.Name,
			"address":            cfg.Address,
			"port":               cfg.Port,
			"mode":               cfg.Mode,
			"region":             cfg.Region,
			"antennas":           cfg.Antennas,
			"antennaMask":        fmt.Sprintf("0x%02X", cfg.AntennaMask()),
			"isConnected":        sess.IsConnected(),
			"connectionStatus":   sess.ConnectionStatus(),
			"notificationActive": sess.IsNotificationActive(),
		}
		if sess.IsNotificationActive() {
			info["notificationPort"] = sess.NotificationPort()
		}
		out = append(out, info)
	}
	writeSuccess(w, map[string]any{
		"readerCount": len(out),
		"readers":     out,
	})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	items, err := s.eng.Inventory(r.Context(), sess)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		rssi := make([]map[string]any, 0, len(it.Tag.RSSIValues()))
		for _, v := range it.Tag.RSSIValues() {
			rssi = append(rssi, map[string]any{"antenna": v.Antenna, "rssi": v.RSSI})
		}
		out = append(out, map[string]any{
			"tagType":    it.Tag.TagType(),
			"epc":        it.Tag.EPCHexString(),
			"pc":         tag.ToHexString(it.Tag.PC()),
			"mediaId":    it.Tag.GetMediaID(),
			"secured":    it.Tag.IsSecured(),
			"rssiValues": rssi,
		})
	}
	writeSuccess(w, map[string]any{
		"message": "Inventory successful",
		"count":   len(out),
		"tags":    out,
	})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	mediaID, ok := requireQueryParam(w, r, "mediaId")
	if !ok {
		return
	}
	format := q.Get("format")
	if format == "" {
		format = s.defaultFormat
	}
	securedStr := q.Get("secured")
	secured := securedStr == "" || strings.EqualFold(securedStr, "true")

	result, err := s.eng.Initialize(r.Context(), sess, format, mediaID, secured)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeSuccess(w, map[string]any{
		"message": "Tag initialized successfully",
		"epc":     result.NewEPC,
		"pc":      result.NewPC,
		"mediaId": result.MediaID,
		"secured": result.Secured,
		"format":  format,
		"tagType": result.Format,
	})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	epcHex, ok := requireQueryParam(w, r, "epc")
	if !ok {
		return
	}
	mediaID, ok := requireQueryParam(w, r, "mediaId")
	if !ok {
		return
	}

	result, err := s.eng.Edit(r.Context(), sess, epcHex, mediaID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeSuccess(w, map[string]any{
		"message": "Tag updated successfully",
		"oldEpc":  result.OldEPC,
		"newEpc":  result.NewEPC,
		"mediaId": result.MediaID,
		"tagType": result.TagType,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	epcHex, ok := requireQueryParam(w, r, "epc")
	if !ok {
		return
	}

	result, err := s.eng.Clear(r.Context(), sess, epcHex)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeSuccess(w, map[string]any{
		"message": "Tag cleared successfully - passwords zeroed and EPC restored to TID",
		"oldEpc":  epcHex,
		"newEpc":  result.NewEPC,
		"newPc":   result.NewPC,
		"tid":     result.TID,
	})
}

func (s *Server) handleSecure(w http.ResponseWriter, r *http.Request) {
	s.handleSetSecured(w, r, true)
}

func (s *Server) handleUnsecure(w http.ResponseWriter, r *http.Request) {
	s.handleSetSecured(w, r, false)
}

func (s *Server) handleSetSecured(w http.ResponseWriter, r *http.Request, secured bool) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	epcHex, ok := requireQueryParam(w, r, "epc")
	if !ok {
		return
	}

	result, err := s.eng.SetSecured(r.Context(), sess, epcHex, secured)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	verb := "unsecured"
	if secured {
		verb = "secured"
	}
	writeSuccess(w, map[string]any{
		"message": fmt.Sprintf("Tag %s successfully", verb),
		"epc":     epcHex,
		"tagType": result.TagType,
		"secured": secured,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	epcHex, ok := requireQueryParam(w, r, "epc")
	if !ok {
		return
	}

	result, err := s.eng.Analyze(r.Context(), sess, epcHex)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	securityAssessment := "not properly secured"
	if result.ProperlySecured {
		securityAssessment = "properly secured"
	}
	writeSuccess(w, map[string]any{
		"epc": epcHex,
		"analysis": map[string]any{
			"tagType": result.Format,
			"mediaId": result.MediaID,
			"epcBank": map[string]any{
				"theoreticalPc":  result.TheoreticalPC,
				"theoreticalEpc": result.TheoreticalEPC,
				"actual":         result.ActualPCEPC,
				"matches":        result.MatchesTheoretical,
			},
			"tidBank": map[string]any{
				"tid": result.TID,
			},
			"reservedBank": map[string]any{
				"issues": result.Issues,
			},
			"lockStatus":         result.LockStatus,
			"securityAssessment": securityAssessment,
		},
	})
}

func (s *Server) handleNotificationStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if sess.IsNotificationActive() {
		writeError(w, http.StatusBadRequest, errors.New("Notification mode already running for this reader"))
		return
	}

	port := s.reg.NextListenerPort()
	started, err := sess.StartNotification(r.Context(), port)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if !started {
		writeError(w, http.StatusInternalServerError, errors.New("Failed to start notification mode"))
		return
	}
	writeSuccess(w, map[string]any{
		"message":    "Notification mode started",
		"port":       port,
		"readerName": mux.Vars(r)["name"],
	})
}

func (s *Server) handleNotificationStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if !sess.IsNotificationActive() {
		writeError(w, http.StatusNotFound, errors.Errorf("No active notification session for reader: %s", mux.Vars(r)["name"]))
		return
	}
	if err := sess.StopNotification(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeSuccess(w, map[string]any{"message": "Notification mode stopped"})
}

func (s *Server) handleNotificationEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if !sess.IsNotificationActive() {
		writeError(w, http.StatusNotFound, errors.Errorf("No active notification session for reader: %s", mux.Vars(r)["name"]))
		return
	}
	events := sess.Queue().PollAll()
	writeSuccess(w, map[string]any{
		"readerName":  mux.Vars(r)["name"],
		"eventCount":  len(events),
		"isConnected": sess.IsConnected(),
		"events":      events,
	})
}

func (s *Server) handleNotificationStatus(w http.ResponseWriter, _ *http.Request) {
	sessions := make([]map[string]any, 0)
	for _, name := range s.reg.Names() {
		sess, ok := s.reg.Get(name)
		if !ok || !sess.IsNotificationActive() {
			continue
		}
		sessions = append(sessions, map[string]any{
			"readerName":   name,
			"port":         sess.NotificationPort(),
			"isConnected":  sess.IsConnected(),
			"queuedEvents": sess.Queue().Count(),
		})
	}
	writeSuccess(w, map[string]any{
		"activeSessions": len(sessions),
		"sessions":       sessions,
	})
}
