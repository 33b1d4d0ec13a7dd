package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkinbot/internal/domain"
	"checkinbot/internal/jobs"
	logx "checkinbot/pkg/logx"
)

type Store interface {
	Ping(ctx context.Context) error
	ListGroups(ctx context.Context) ([]domain.Group, error)
	ListMembers(ctx context.Context, groupID int64) ([]domain.Member, error)
}

type LateLister interface {
	LateMembers(ctx context.Context, groupID int64, p domain.PeriodType, date domain.Date) ([]domain.Member, error)
}

type JobLister interface {
	Snapshot() []jobs.Job
}

// Deps are the read-only views the API serves. Nil members disable their
// routes.
type Deps struct {
	Store   Store
	Tracker LateLister
	Jobs    JobLister
	Status  func(ctx context.Context) string
}

// NewRouter builds the handler tree. /healthz stays open for probes; every
// other route requires the token when one is set.
func NewRouter(cfg Config, d Deps, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(pr chi.Router) {
		pr.Use(requireToken(cfg.Token))

		pr.Get("/readyz", d.ready)
		pr.Handle("/metrics", promhttp.Handler())

		pr.Route("/api", func(ar chi.Router) {
			ar.Use(middleware.Timeout(10 * time.Second))
			ar.Use(accessLog(log))
			if d.Status != nil {
				ar.Get("/status", d.status)
			}
			if d.Jobs != nil {
				ar.Get("/jobs", d.jobs)
			}
			if d.Store != nil {
				ar.Get("/groups", d.groups)
				ar.Get("/groups/{groupID}/members", d.members)
			}
			if d.Tracker != nil {
				ar.Get("/groups/{groupID}/late/{period}/{date}", d.late)
			}
		})

		if cfg.Pprof {
			pr.Get("/debug/pprof/*", hpprof.Index)
			pr.Get("/debug/pprof/cmdline", hpprof.Cmdline)
			pr.Get("/debug/pprof/profile", hpprof.Profile)
			pr.Get("/debug/pprof/symbol", hpprof.Symbol)
			pr.Get("/debug/pprof/trace", hpprof.Trace)
		}
	})
	return r
}

// requireToken accepts "Authorization: Bearer <token>" or ?token=<token>.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accessLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("dur", time.Since(start)),
				logx.String("req_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (d Deps) ready(w http.ResponseWriter, r *http.Request) {
	if d.Store != nil {
		if err := d.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "storage: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (d Deps) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(d.Status(r.Context())))
}

func (d Deps) jobs(w http.ResponseWriter, r *http.Request) {
	list := d.Jobs.Snapshot()
	if gid := r.URL.Query().Get("group"); gid != "" {
		id, err := strconv.ParseInt(gid, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad group")
			return
		}
		filtered := list[:0:0]
		for _, j := range list {
			if j.GroupID == id {
				filtered = append(filtered, j)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(list), "jobs": list})
}

func (d Deps) groups(w http.ResponseWriter, r *http.Request) {
	groups, err := d.Store.ListGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (d Deps) members(w http.ResponseWriter, r *http.Request) {
	gid, ok := groupParam(w, r)
	if !ok {
		return
	}
	members, err := d.Store.ListMembers(r.Context(), gid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, members)
}

type lateResponse struct {
	GroupID int64             `json:"group_id"`
	Period  domain.PeriodType `json:"period"`
	Date    string            `json:"date"`
	Late    []domain.Member   `json:"late"`
}

func (d Deps) late(w http.ResponseWriter, r *http.Request) {
	gid, ok := groupParam(w, r)
	if !ok {
		return
	}
	p, err := domain.ParsePeriodType(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := domain.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	late, err := d.Tracker.LateMembers(r.Context(), gid, p, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if late == nil {
		late = []domain.Member{}
	}
	writeJSON(w, http.StatusOK, lateResponse{GroupID: gid, Period: p, Date: date.String(), Late: late})
}

func groupParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	gid, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad group id")
		return 0, false
	}
	return gid, true
}
