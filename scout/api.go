package scout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/signalscout/scout/internal/shield"
)

// Handler returns the read-only inspection API:
//
//	GET /health
//	GET /metrics
//	GET /api/stats
//	GET /api/records?author=&sentiment=&limit=&offset=&format=markdown
//	GET /api/records/{fingerprint}
//	GET /api/tasks?limit=
//	GET /api/tasks/{id}
//	GET /api/profiles/{username}
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(s.logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "platform": s.Platform()})
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/records", s.handleRecords)
		r.Get("/records/{fingerprint}", s.handleRecord)
		r.Get("/tasks", s.handleTasks)
		r.Get("/tasks/{id}", s.handleTask)
		r.Get("/profiles/{username}", s.handleProfile)
	})
	return r
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := RecordFilter{Author: q.Get("author"), Sentiment: q.Get("sentiment")}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := s.Records(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if q.Get("format") == "markdown" {
		s.writeMarkdown(w, r, recs...)
		return
	}
	if recs == nil {
		recs = []*Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Service) handleRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Record(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		s.writeMarkdown(w, r, rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tasks, err := s.Tasks(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Service) handleTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.Task(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Service) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.Profile(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) writeMarkdown(w http.ResponseWriter, r *http.Request, recs ...*Record) {
	var out []byte
	for i, rec := range recs {
		md, err := RenderMarkdown(rec)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if i > 0 {
			out = append(out, "\n---\n\n"...)
		}
		out = append(out, md...)
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// fail maps ErrNotFound to 404 and logs everything else as a 500.
func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	shield.GetLogger(r.Context()).Error("scout: api", "error", err)
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("scout: invalid integer parameter " + strconv.Quote(v))
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
