package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"energy-service/internal/models"
	"energy-service/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps a store error onto a response. Missing records are 404, anything
// else is reported as 500 and logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	endpoint := routeTemplate(r)
	storeErrors.WithLabelValues(endpoint).Inc()
	s.logger.Error("request failed",
		zap.String("endpoint", endpoint),
		zap.String("request_id", w.Header().Get(requestIDHeader)),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

// parseRange reads the optional startDate and endDate query parameters.
func parseRange(r *http.Request) (store.TimeRange, error) {
	var rng store.TimeRange
	q := r.URL.Query()
	if v := q.Get("startDate"); v != "" {
		t, err := models.ParseDate(v)
		if err != nil {
			return rng, fmt.Errorf("startDate: %w", err)
		}
		rng.Start = t
	}
	if v := q.Get("endDate"); v != "" {
		t, err := models.ParseDate(v)
		if err != nil {
			return rng, fmt.Errorf("endDate: %w", err)
		}
		rng.End = t
	}
	return rng, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", mux.Vars(r)["id"])
	}
	return id, nil
}
