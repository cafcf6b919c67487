package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	nativecommon "nftmarket/native/common"
)

// PauseController is a PauseView that can also be flipped at runtime.
type PauseController interface {
	nativecommon.PauseView
	Set(module string, paused bool)
}

// PauseState reports one module's pause flag.
type PauseState struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

func (s *Server) pauseStates() []PauseState {
	modules := nativecommon.Modules()
	out := make([]PauseState, 0, len(modules))
	for _, module := range modules {
		out = append(out, PauseState{Module: module, Paused: s.pauses != nil && s.pauses.IsPaused(module)})
	}
	return out
}

func (s *Server) handleListPauses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pauseStates())
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	module := chi.URLParam(r, "module")
	if !nativecommon.IsKnownModule(module) {
		writeError(w, r, http.StatusNotFound, "UnknownModule", "unknown module "+module)
		return
	}
	controller, ok := s.pauses.(PauseController)
	if !ok {
		writeError(w, r, http.StatusNotImplemented, "Unsupported", "pause switch is read-only")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req pauseRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Paused == nil {
		writeError(w, r, http.StatusBadRequest, "InvalidPayload", `expected {"paused": true|false}`)
		return
	}
	controller.Set(module, *req.Paused)
	s.logger.Warn("module pause changed",
		slog.String("module", module),
		slog.Bool("paused", *req.Paused),
		slog.String("request_id", RequestIDFromContext(r.Context())))
	writeJSON(w, http.StatusOK, PauseState{Module: module, Paused: controller.IsPaused(module)})
}
