package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Events bool   `json:"events"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Events: s.broker != nil})
}
