package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/manager"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/registry"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/pkg/logging"
)

// server wires the engine manager to a small HTTP surface for driving
// it manually: setting a backing entity's state, forcing a full
// update, and reading back published sensor values. None of this is
// part of the engine core (§1 excludes "user-facing service
// endpoints"); it exists only to demonstrate the manager's public
// operations from outside a real Home Assistant host.
type server struct {
	mgr *manager.Manager
	reg *registry.Registry
	bus *entityBus
	log *logging.Logger
}

func newRouter(s *server, hub *signalHub) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/states/{entity_id}", s.handleSetState).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/update_all", s.handleUpdateAll).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sensors", s.handleListSensors).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/sensors/{unique_id}", s.handleGetSensor).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", hub.ServeWS)
	return r
}

type setStateRequest struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func (s *server) handleSetState(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entity_id"]
	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	changed := s.bus.set(entityID, req.State, req.Attributes)
	if !changed {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.mgr.OnBackingEntitiesChanged(ctx, map[string]bool{entityID: true}); err != nil {
		s.log.WithField("entity_id", entityID).WithError(err).Error("update cycle failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleUpdateAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.mgr.UpdateAll(ctx); err != nil {
		s.log.WithError(err).Error("update_all failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type sensorValueResponse struct {
	UniqueID string `json:"unique_id"`
	EntityID string `json:"entity_id"`
	Value    any    `json:"value"`
}

func (s *server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	out := make([]sensorValueResponse, 0, len(s.reg.Keys()))
	for _, key := range s.reg.Keys() {
		entry, ok := s.reg.Get(key)
		if !ok {
			continue
		}
		out = append(out, sensorValueResponse{UniqueID: key, EntityID: entry.EntityID, Value: entry.Value})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	uniqueID := mux.Vars(r)["unique_id"]
	entry, ok := s.reg.Get(uniqueID)
	if !ok {
		http.Error(w, "sensor not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sensorValueResponse{UniqueID: uniqueID, EntityID: entry.EntityID, Value: entry.Value})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
