// Package api exposes the plan controller over HTTP and WebSocket:
// plan submission, status polling, DVH retrieval, cancellation, and
// live progress subscription (spec.md §6 external interfaces).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/QuangMacHUST/QuangStationV2/internal/config"
	"github.com/QuangMacHUST/QuangStationV2/internal/planctl"
	"github.com/QuangMacHUST/QuangStationV2/internal/progress"
	"github.com/QuangMacHUST/QuangStationV2/internal/structureset"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// recordStatus is the lifecycle state of a submitted plan, as tracked by
// the server independently of the controller's own Result.Status.
type recordStatus string

const (
	statusQueued  recordStatus = "queued"
	statusRunning recordStatus = "running"
	statusDone    recordStatus = "done"
)

// planRecord tracks one submitted plan's lifecycle and final result.
type planRecord struct {
	Status recordStatus
	Result *planctl.Result
	Err    string
}

// Server exposes the plan controller over HTTP and WebSocket.
type Server struct {
	router     *mux.Router
	hub        *progress.Hub
	controller *planctl.Controller
	port       int

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	plans map[string]*planRecord
}

// NewServer creates an API server bound to port, wiring a fresh progress
// hub and plan controller from cfg.
func NewServer(port int, cfg config.Config) *Server {
	hub := progress.NewHub()
	s := &Server{
		router:     mux.NewRouter(),
		hub:        hub,
		controller: planctl.NewController(hub, cfg),
		port:       port,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		plans:      make(map[string]*planRecord),
	}
	s.registerRoutes()
	return s
}

// Hub returns the server's progress-broadcast hub. Start already runs the
// hub's Run loop.
func (s *Server) Hub() *progress.Hub { return s.hub }

func (s *Server) registerRoutes() {
	s.router.Use(s.corsMiddleware)
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/v1/plans", s.handleSubmitPlan).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/v1/plans/{planID}", s.handleGetPlan).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/v1/plans/{planID}/dvh", s.handleGetDVH).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/v1/plans/{planID}/cancel", s.handleCancelPlan).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/v1/plans/{planID}/progress", s.handleProgressWS).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/stats", s.handleHubStats).Methods(http.MethodGet, http.MethodOptions)
}

// corsMiddleware adds permissive CORS headers for the clinic-floor web
// console talking to this server.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PlanSubmission is the POST /api/v1/plans request body: a plan plus the
// CT volume and structure set it is computed against.
type PlanSubmission struct {
	Plan           types.Plan        `json:"plan"`
	CT             types.CTVolume    `json:"ct"`
	Structures     []types.Structure `json:"structures"`
	TimeoutSeconds float64           `json:"timeout_seconds,omitempty"`
}

// handleSubmitPlan handles POST /api/v1/plans: validates the structure
// set against the CT grid, then runs the plan asynchronously so the
// caller can poll status or subscribe to progress over WebSocket.
func (s *Server) handleSubmitPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Plan.ID == "" {
		s.sendError(w, http.StatusBadRequest, "plan.id is required")
		return
	}

	structs := structureset.New(req.CT.Shape)
	for i := range req.Structures {
		if err := structs.Add(&req.Structures[i]); err != nil {
			s.sendError(w, http.StatusBadRequest, fmt.Sprintf("structure set: %v", err))
			return
		}
	}

	s.mu.Lock()
	if _, exists := s.plans[req.Plan.ID]; exists {
		s.mu.Unlock()
		s.sendError(w, http.StatusConflict, "a plan with this id is already submitted")
		return
	}
	s.plans[req.Plan.ID] = &planRecord{Status: statusQueued}
	s.mu.Unlock()

	plan := req.Plan
	ct := req.CT
	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))

	go s.runPlan(&plan, &ct, structs, timeout)

	s.sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"plan_id": plan.ID,
		"status":  statusQueued,
	})
}

func (s *Server) runPlan(plan *types.Plan, ct *types.CTVolume, structs *structureset.Set, timeout time.Duration) {
	s.mu.Lock()
	s.plans[plan.ID].Status = statusRunning
	s.mu.Unlock()

	result, err := s.controller.RunPlan(context.Background(), plan, ct, structs, timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.plans[plan.ID]
	rec.Status = statusDone
	rec.Result = result
	if err != nil {
		rec.Err = err.Error()
	}
}

// handleGetPlan handles GET /api/v1/plans/{planID}.
func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["planID"]

	s.mu.RLock()
	rec, ok := s.plans[planID]
	s.mu.RUnlock()
	if !ok {
		s.sendError(w, http.StatusNotFound, "unknown plan id")
		return
	}

	response := map[string]interface{}{
		"success": true,
		"plan_id": planID,
		"status":  rec.Status,
	}
	if rec.Err != "" {
		response["error"] = rec.Err
	}
	if rec.Result != nil {
		response["result_status"] = rec.Result.Status
		response["objective_total"] = rec.Result.ObjectiveTotal
		response["conformity_index"] = rec.Result.ConformityIndex
		response["homogeneity_index"] = rec.Result.HomogeneityIndex
		response["gradient_index"] = rec.Result.GradientIndex
		response["weights"] = rec.Result.Weights
		response["warnings"] = rec.Result.Warnings
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleGetDVH handles GET /api/v1/plans/{planID}/dvh.
func (s *Server) handleGetDVH(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["planID"]

	s.mu.RLock()
	rec, ok := s.plans[planID]
	s.mu.RUnlock()
	if !ok {
		s.sendError(w, http.StatusNotFound, "unknown plan id")
		return
	}
	if rec.Result == nil {
		s.sendError(w, http.StatusConflict, "plan has not finished computing")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"plan_id": planID,
		"dvhs":    rec.Result.DVHs,
	})
}

// handleCancelPlan handles POST /api/v1/plans/{planID}/cancel: flips the
// plan's cooperative cancellation flag through the progress hub.
func (s *Server) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["planID"]

	s.mu.RLock()
	_, ok := s.plans[planID]
	s.mu.RUnlock()
	if !ok {
		s.sendError(w, http.StatusNotFound, "unknown plan id")
		return
	}

	triggered := s.hub.TriggerCancel(planID)
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"plan_id":   planID,
		"triggered": triggered,
	})
}

// handleProgressWS handles GET /api/v1/plans/{planID}/progress: upgrades
// to a WebSocket connection subscribed to planID's progress events.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["planID"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] websocket upgrade failed: %v", err)
		return
	}

	clientID := fmt.Sprintf("%s-%d", planID, time.Now().UnixNano())
	client := progress.NewClient(clientID, planID, conn)
	s.hub.Register(client)

	go client.WritePump()
	client.ReadPump(s.hub)
}

// handleHubStats handles GET /api/v1/stats: progress hub throughput.
func (s *Server) handleHubStats(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   s.hub.GetStatistics(),
	})
}

// handleHealth handles GET /api/v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  "healthy",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) sendError(w http.ResponseWriter, statusCode int, message string) {
	s.sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// Start starts the API server and its progress hub, blocking until the
// HTTP listener exits.
func (s *Server) Start() error {
	go s.hub.Run()

	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("[API] starting planner server on %s", addr)
	return http.ListenAndServe(addr, s.router)
}
