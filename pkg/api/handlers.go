package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/factorykit/linewatch/pkg/service"
)

type healthResponse struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

type readyResponse struct {
	Status          string `json:"status"`
	PID             int    `json:"pid"`
	ThreadPoolOK    bool   `json:"thread_pool_ok"`
	PLCServiceReady bool   `json:"plc_service_ready"`
	PLCAlive        bool   `json:"plc_alive"`
}

type productionResponse struct {
	LineName       string  `json:"line_name"`
	ProductionType int     `json:"production_type"`
	ProductionName string  `json:"production_name"`
	Plan           int     `json:"plan"`
	Actual         int     `json:"actual"`
	Remain         int     `json:"remain"`
	RemainPallet   float64 `json:"remain_pallet"`
	RemainMin      int     `json:"remain_min"`
	Fully          int     `json:"fully"`
	InOperating    bool    `json:"in_operating"`
	Alarm          bool    `json:"alarm"`
	AlarmMsg       string  `json:"alarm_msg"`
	Timestamp      string  `json:"timestamp"`
}

type actionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type syncTimeResponse struct {
	Success    bool    `json:"success"`
	SyncedTime *string `json:"synced_time"`
	Message    string  `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// handleHealth answers liveness. No PLC traffic; must stay fast no
// matter what the transport is doing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", PID: os.Getpid()})
}

// handleReady answers readiness: executor check, service readiness and
// a real PLC ping. A disabled PLC counts as alive — there is nothing to
// be dead.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	executorOK := s.svc.ExecutorPing(readyExecutorTimeout)
	serviceReady := s.svc.Ready()

	plcAlive := false
	if err := s.svc.Ping(); err == nil || errors.Is(err, service.ErrPLCDisabled) {
		plcAlive = true
	}

	status := "unhealthy"
	code := http.StatusServiceUnavailable
	switch {
	case executorOK && serviceReady && plcAlive:
		status, code = "ok", http.StatusOK
	case executorOK && serviceReady:
		status, code = "degraded", http.StatusOK
	}

	writeJSON(w, code, readyResponse{
		Status:          status,
		PID:             os.Getpid(),
		ThreadPoolOK:    executorOK,
		PLCServiceReady: serviceReady,
		PLCAlive:        plcAlive,
	})
}

func (s *Server) handleProduction(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.ProductionData()
	if err != nil {
		s.log.Error("failed to get production data", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, productionResponse{
		LineName:       snap.LineName,
		ProductionType: snap.ProductionType,
		ProductionName: snap.ProductionName,
		Plan:           snap.Plan,
		Actual:         snap.Actual,
		Remain:         snap.Remain(),
		RemainPallet:   snap.RemainPallet,
		RemainMin:      snap.RemainMin,
		Fully:          snap.Fully,
		InOperating:    snap.InOperating,
		Alarm:          snap.Alarm,
		AlarmMsg:       snap.AlarmMsg,
		Timestamp:      snap.Timestamp.Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handleShutdown disconnects the PLC and signals the process after the
// response has had time to leave.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.log.Info("shutdown requested via API")
	s.svc.Shutdown()
	s.scheduleTermination()
	writeJSON(w, http.StatusOK, actionResponse{
		Status:  "shutting_down",
		Message: "shutdown initiated, PLC connection closed",
	})
}

// handleRestart is the emergency restart: terminate and let the
// watchdog respawn. Gated by ALLOW_FRONTEND_RESTART.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AllowFrontendRestart {
		s.log.Warn("restart request denied: ALLOW_FRONTEND_RESTART=false")
		writeJSON(w, http.StatusForbidden, errorResponse{Detail: "restart not allowed (ALLOW_FRONTEND_RESTART=false)"})
		return
	}
	s.log.Info("restart requested via API")
	s.svc.Shutdown()
	s.scheduleTermination()
	writeJSON(w, http.StatusOK, actionResponse{
		Status:  "restarting",
		Message: "restart initiated, the watchdog will respawn the server",
	})
}

func (s *Server) handleSyncTime(w http.ResponseWriter, r *http.Request) {
	ts, err := s.svc.PLCTimestamp()
	if err != nil {
		s.log.Warn("cannot read PLC clock for time sync", zap.Error(err))
		writeJSON(w, http.StatusOK, syncTimeResponse{
			Success: false,
			Message: "PLC clock unavailable (PLC disabled or unreachable)",
		})
		return
	}

	synced := ts.Format(time.RFC3339)
	if err := s.setClock(ts); err != nil {
		s.log.Warn("failed to set system clock", zap.Error(err))
		writeJSON(w, http.StatusOK, syncTimeResponse{
			Success:    false,
			SyncedTime: &synced,
			Message:    "failed to set system clock (insufficient privileges?)",
		})
		return
	}

	s.log.Info("system clock synced with PLC", zap.Time("plc_time", ts))
	writeJSON(w, http.StatusOK, syncTimeResponse{
		Success:    true,
		SyncedTime: &synced,
		Message:    "system clock synchronized",
	})
}

func (s *Server) scheduleTermination() {
	s.delay(termDelay, func() {
		s.log.Info("sending SIGTERM to self")
		if err := s.kill(); err != nil {
			s.log.Error("failed to signal own process", zap.Error(err))
		}
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
