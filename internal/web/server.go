package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/example/srt-scheduler/internal/auth"
	"github.com/example/srt-scheduler/internal/domain/reservation"
	"github.com/example/srt-scheduler/internal/logger"
	"github.com/example/srt-scheduler/internal/metrics"
	"github.com/example/srt-scheduler/internal/notify"
	"github.com/example/srt-scheduler/internal/scheduler"
)

//go:embed static
var assets embed.FS

const maxBody = 64 << 10

type Server struct {
	Auth *auth.Guard
	Jobs *scheduler.Scheduler
	Push *notify.Push
	// Chat, when set, also receives test notifications.
	Chat    notify.Notifier
	Metrics *metrics.Metrics
	Log     logger.Logger
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	static, _ := fs.Sub(assets, "static")
	mux.Handle("GET /", http.FileServer(http.FS(static)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}

	mux.HandleFunc("POST /api/session", s.handleLogin)
	mux.HandleFunc("DELETE /api/session", s.handleLogout)

	mux.HandleFunc("POST /api/reserve", s.handleReserve)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/cancel", s.handleCancel)

	mux.HandleFunc("POST /api/subscribe", s.handleSubscribe)
	mux.HandleFunc("GET /api/vapid-key", s.handleVAPIDKey)
	mux.HandleFunc("POST /api/test-notification", s.handleTestNotification)

	return s.logRequests(s.Metrics.Middleware(mux))
}

type loginBody struct {
	AppPassword string `json:"appPassword"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !decode(w, r, &body) {
		return
	}
	if err := s.Auth.Check(body.AppPassword); err != nil {
		writeError(w, http.StatusUnauthorized, "incorrect app password")
		return
	}
	if err := s.Auth.SetSession(w, r); err != nil {
		s.log().Error("set session cookie", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed in"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

type reserveBody struct {
	AppPassword string `json:"appPassword"`
	reservation.Input
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var body reserveBody
	if !decode(w, r, &body) {
		return
	}
	if err := s.Auth.Authorize(r, body.AppPassword); err != nil {
		writeError(w, http.StatusUnauthorized, "incorrect app password")
		return
	}

	id, err := s.Jobs.Start(body.Input)
	switch {
	case errors.Is(err, reservation.ErrAlreadyRunning):
		writeError(w, http.StatusBadRequest, "a reservation job is already running")
		return
	case errors.Is(err, reservation.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log().Error("start job", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start the job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "reservation job started", "jobId": id})
}

type statusResponse struct {
	JobID     string   `json:"jobId,omitempty"`
	IsRunning bool     `json:"isRunning"`
	Phase     string   `json:"phase"`
	Status    string   `json:"status"`
	Logs      []string `json:"logs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Jobs.Status()
	logs := snap.Logs
	if logs == nil {
		logs = []string{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		JobID:     snap.JobID,
		IsRunning: snap.Running,
		Phase:     string(snap.Phase),
		Status:    snap.Status,
		Logs:      logs,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Jobs.Cancel(); err != nil {
		if errors.Is(err, reservation.ErrNotRunning) {
			writeError(w, http.StatusBadRequest, "no reservation job is running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "reservation job cancelled"})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var sub notify.Subscription
	if !decode(w, r, &sub) {
		return
	}
	if err := s.Push.Subscribe(sub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log().Info("push subscription added", logger.Int("subscribers", s.Push.Len()))
	writeJSON(w, http.StatusCreated, map[string]string{"message": "subscribed"})
}

func (s *Server) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if !s.Push.Configured() {
		writeError(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.Push.PublicKey()})
}

type testNotificationResponse struct {
	Message string `json:"message"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Pruned  int    `json:"pruned"`
	Chat    bool   `json:"chat"`
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if !s.Push.Configured() && s.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "no notification channel is configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	m := notify.Message{
		Title: "SRT test notification",
		Body:  "Notifications are working.",
	}

	var (
		resp testNotificationResponse
		errs []error
	)
	if s.Push.Configured() {
		rep, err := s.Push.Broadcast(ctx, m)
		if err != nil {
			errs = append(errs, err)
		}
		resp.Sent, resp.Failed, resp.Pruned = rep.Sent, rep.Failed, rep.Pruned
	}
	if s.Chat != nil {
		if err := s.Chat.Notify(ctx, m); err != nil {
			errs = append(errs, err)
		} else {
			resp.Chat = true
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.log().Warn("test notification", logger.Error(err))
		if resp.Sent == 0 && !resp.Chat {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	resp.Message = fmt.Sprintf("test notification sent to %d push subscriber(s)", resp.Sent)
	if resp.Chat {
		resp.Message += " and the chat"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) log() logger.Logger {
	if s.Log == nil {
		return logger.NewNop()
	}
	return s.Log
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &metrics.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.log().Debug("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rw.Status),
			logger.Duration("duration", time.Since(start)),
		)
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func Start(ctx context.Context, addr string, h http.Handler, log logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("listening", logger.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
