package api

import (
	"net/http"
)

// respondReport writes v, or JSON null when the report had no rows.
func respondReport(w http.ResponseWriter, report string, v interface{}, ok bool) {
	if !ok {
		reportsEmpty.WithLabelValues(report).Inc()
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) devicesAndMonthsHandler(w http.ResponseWriter, r *http.Request) {
	idx, ok, err := s.analyzer.DeviceMonthIndex(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondReport(w, "devices_and_months", idx, ok)
}

func (s *Server) activePowerHandler(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, ok, err := s.analyzer.ActivePowerReport(r.Context(), rng)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondReport(w, "active_power", rows, ok)
}

func (s *Server) consumptionPatternsHandler(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, ok, err := s.analyzer.ConsumptionPatternsReport(r.Context(), rng)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondReport(w, "consumption_patterns", report, ok)
}

func (s *Server) consumptionAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	analysis, ok, err := s.analyzer.DailyConsumptionAnalysis(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondReport(w, "consumption_analysis", analysis, ok)
}
