package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"energy-service/internal/models"
)

const maxImportBytes = 32 << 20

func (s *Server) createMeasurementHandler(w http.ResponseWriter, r *http.Request) {
	var m models.Measurement
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m.ID = 0
	m.DeviceID = strings.TrimSpace(m.DeviceID)
	if m.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	if m.Timestamp.IsZero() {
		writeError(w, http.StatusBadRequest, "timestamp is required")
		return
	}

	saved, err := s.importer.Save(r.Context(), m)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) listMeasurementsHandler(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) getMeasurementHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) updateMeasurementHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var patch models.MeasurementPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.DeviceID != nil && strings.TrimSpace(*patch.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "deviceId must not be empty")
		return
	}

	m, err := s.store.Update(r.Context(), id, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteMeasurementHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.store.Delete(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteAllMeasurementsHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.DeleteAll(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) findByDeviceHandler(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListByDevice(r.Context(), mux.Vars(r)["deviceId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) measurementsByDeviceHandler(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := models.ParseResolution(r.URL.Query().Get("resolution"))

	out, err := s.aggregator.Aggregate(r.Context(), mux.Vars(r)["deviceId"], res, rng)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// importMeasurementsHandler accepts either a multipart upload in field "file"
// or a raw JSON array body. Import failures are reported in the message with
// status 201, like a successful import.
func (s *Server) importMeasurementsHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	var body io.Reader = r.Body

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing upload field \"file\"")
			return
		}
		defer file.Close()
		body = file
	}

	writeJSON(w, http.StatusCreated, s.importer.ImportJSON(r.Context(), body))
}

func (s *Server) recentMeasurementsHandler(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		writeError(w, http.StatusNotFound, "measurement journal is disabled")
		return
	}
	limit := int64(10)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := s.recent.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
