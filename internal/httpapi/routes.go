package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"notificationbot/internal/notifier"
	"notificationbot/internal/reminder"
	rtsup "notificationbot/internal/runtime/supervisor"
	"notificationbot/internal/storage"
	logx "notificationbot/pkg/logx"
)

// DeliveryHistory is implemented by *notifier.Service.
type DeliveryHistory interface {
	History() []notifier.HistoryItem
}

// Deps are read by the handlers. Only Reminders is required.
type Deps struct {
	Reminders  *reminder.Service
	Dispatcher *reminder.Dispatcher
	Audit      storage.Store
	Deliveries DeliveryHistory
	Goroutines func() rtsup.Counters
}

const maxAuditLimit = 1000

type health struct {
	Status     string          `json:"status"`
	Time       time.Time       `json:"time"`
	Reminders  int             `json:"reminders"`
	Dispatcher *dispatcherView `json:"dispatcher,omitempty"`
	Goroutines *rtsup.Counters `json:"goroutines,omitempty"`
}

type dispatcherView struct {
	Running bool                `json:"running"`
	Ticks   uint64              `json:"ticks"`
	Last    reminder.TickReport `json:"last"`
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func newRouter(cfg Config, d Deps, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLog(log))
	r.Use(middleware.Recoverer)
	r.Use(bearerAuth(cfg.Token))

	h := &handlers{d: d}
	r.Get("/healthz", h.health)
	r.Route("/reminders", func(r chi.Router) {
		r.Get("/", h.listReminders)
		r.Get("/{key}", h.getReminder)
	})
	r.Get("/audit", h.audit)
	r.Get("/deliveries", h.deliveries)
	if cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

type handlers struct{ d Deps }

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	out := health{Status: "ok", Time: h.d.Reminders.Now(), Reminders: len(h.d.Reminders.List())}
	if disp := h.d.Dispatcher; disp != nil {
		out.Dispatcher = &dispatcherView{Running: disp.Running(), Ticks: disp.Ticks(), Last: disp.LastReport()}
	}
	if h.d.Goroutines != nil {
		c := h.d.Goroutines()
		out.Goroutines = &c
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) listReminders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Reminders.Statuses())
}

func (h *handlers) getReminder(w http.ResponseWriter, r *http.Request) {
	st, err := h.d.Reminders.Status(chi.URLParam(r, "key"))
	if errors.Is(err, reminder.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) audit(w http.ResponseWriter, r *http.Request) {
	if h.d.Audit == nil {
		writeError(w, r, http.StatusServiceUnavailable, storage.ErrDisabled)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditLimit {
			writeError(w, r, http.StatusBadRequest, errors.New("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	entries, err := h.d.Audit.RecentAudit(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) deliveries(w http.ResponseWriter, r *http.Request) {
	items := []notifier.HistoryItem{}
	if h.d.Deliveries != nil {
		items = append(items, h.d.Deliveries.History()...)
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), RequestID: middleware.GetReqID(r.Context())})
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusUnauthorized, errors.New("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []logx.Field{
				logx.String("rid", middleware.GetReqID(r.Context())),
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", status),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("dur", time.Since(start)),
			}
			if status >= http.StatusInternalServerError {
				log.Warn("http request failed", fields...)
				return
			}
			log.Debug("http request", fields...)
		})
	}
}
