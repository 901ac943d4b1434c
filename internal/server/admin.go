package server

import (
	"encoding/json"
	"net/http"

	"github.com/adcondev/receipt-daemon/internal/printer"
	"github.com/adcondev/receipt-daemon/internal/queue"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandlePrinters lists installed printers. ?refresh=1 bypasses the cache.
func (s *Server) HandlePrinters(w http.ResponseWriter, r *http.Request) {
	if s.deps.Printers == nil {
		http.Error(w, "printer discovery unavailable", http.StatusServiceUnavailable)
		return
	}
	force := r.URL.Query().Get("refresh") != ""
	printers, err := s.deps.Printers.GetPrinters(r.Context(), force)
	if err != nil && printers == nil {
		http.Error(w, "failed to enumerate printers: "+err.Error(), http.StatusBadGateway)
		return
	}
	dtos := make([]printer.DetailDTO, len(printers))
	for i, p := range printers {
		dtos[i] = p.DTO()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"printers": dtos,
		"summary":  s.deps.Printers.GetSummary(),
	})
}

// HandleJobs lists jobs held by the local intake queue, or one job with ?id=.
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Intake == nil {
		http.Error(w, "jobs are held by an external queue", http.StatusNotFound)
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		job, ok := s.deps.Intake.Get(id)
		if !ok {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}
	jobs := s.deps.Intake.List()
	if jobs == nil {
		jobs = []queue.Job{}
	}
	current, capacity := s.QueueStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":     jobs,
		"current":  current,
		"capacity": capacity,
	})
}
