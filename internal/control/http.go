package control

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loqalabs/loqa-scribe/internal/history"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

// Handler serves the read-only HTTP view of the session and history.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/session", func(w http.ResponseWriter, r *http.Request) {
		reply, _ := s.handleStatus(r.Context(), protocol.Request{})
		writeJSON(w, http.StatusOK, reply.State)
	})
	mux.HandleFunc("GET /v1/history", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := protocol.Request{Query: q.Get("q"), Tag: q.Get("tag"), Sort: q.Get("sort")}
		if q.Get("favorites") == "true" {
			fav := true
			req.Favorite = &fav
		}
		reply, _ := s.handleHistoryList(r.Context(), req)
		writeJSON(w, http.StatusOK, reply.Records)
	})
	mux.HandleFunc("GET /v1/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		reply, err := s.handleHistoryGet(r.Context(), protocol.Request{ID: r.PathValue("id")})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reply.Record)
	})
	mux.HandleFunc("GET /v1/history/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		reply, err := s.handleHistoryExport(r.Context(), protocol.Request{
			ID:     r.PathValue("id"),
			Format: r.URL.Query().Get("format"),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", reply.MIME)
		w.Header().Set("Content-Disposition", `attachment; filename="`+reply.Filename+`"`)
		_, _ = w.Write(reply.Document)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, history.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrSubscriptionRequired):
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, protocol.Reply{Error: err.Error()})
}
