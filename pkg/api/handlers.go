package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spawnpoint/spawnpoint/pkg/captcha"
	"github.com/spawnpoint/spawnpoint/pkg/events"
	"github.com/spawnpoint/spawnpoint/pkg/ports"
	"github.com/spawnpoint/spawnpoint/pkg/store"
	"github.com/spawnpoint/spawnpoint/pkg/types"
)

type tokenRequest struct {
	Username string `json:"username"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type deployRequest struct {
	Task         string `json:"task"`
	CaptchaToken string `json:"captcha_token"`
}

type instanceRequest struct {
	InstanceID uint `json:"instance_id"`
}

type instancePayload struct {
	ID          uint      `json:"id"`
	TaskName    string    `json:"task_name"`
	ContainerID string    `json:"container_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Status      string    `json:"status"`
	Endpoint    string    `json:"endpoint"`
	Port        int       `json:"port,omitempty"`
}

type instanceSummary struct {
	ID            uint   `json:"id"`
	TaskName      string `json:"task_name"`
	ExpiresInSecs int64  `json:"expires_in_secs"`
	Endpoint      string `json:"endpoint"`
	Status        string `json:"status"`
}

type taskSummary struct {
	Name          string `json:"name"`
	Protocol      string `json:"protocol"`
	ContainerPort int    `json:"container_port"`
}

func instancePayloadFrom(inst *types.Instance) instancePayload {
	return instancePayload{
		ID:          inst.ID,
		TaskName:    inst.TaskName,
		ContainerID: inst.ContainerID,
		CreatedAt:   inst.CreatedAt,
		ExpiresAt:   inst.ExpiresAt,
		Status:      string(inst.Status),
		Endpoint:    inst.Endpoint,
		Port:        inst.Port,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// handleToken issues or reuses a bearer token for the username.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if limiter := s.tokenLimiter(clientIP(r)); limiter != nil && !limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req tokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}

	sess, err := s.sessions.Issue(r.Context(), req.Username)
	if err != nil {
		s.logger.Error().Err(err).Str("username", req.Username).Msg("token issuance failed")
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt})
}

// handleDeploy runs captcha → task check → quota → deploy → persist.
// The count and the deploy are not atomic, so the persisting insert
// re-checks the quota inside one transaction and the container is torn
// down if that final check loses a race.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req deployRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.verifier.Verify(r.Context(), req.CaptchaToken); err != nil {
		if errors.Is(err, captcha.ErrInvalid) {
			writeError(w, http.StatusUnauthorized, "captcha verification failed")
			return
		}
		s.logger.Error().Err(err).Msg("captcha provider failure")
		writeError(w, http.StatusInternalServerError, "captcha provider unavailable")
		return
	}

	task, err := s.store.FindTask(r.Context(), req.Task)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if task == nil {
		writeError(w, http.StatusBadRequest, "unknown task")
		return
	}

	count, err := s.store.CountRunningInstancesForUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if count >= int64(s.cfg.Sessions.MaxInstances) {
		writeError(w, http.StatusBadRequest, "instance limit reached")
		return
	}

	inst, err := s.deployer.Deploy(r.Context(), task.Name)
	if err != nil {
		s.logger.Error().Err(err).Str("task", task.Name).Msg("deploy failed")
		if errors.Is(err, ports.ErrOutOfPorts) {
			writeError(w, http.StatusInternalServerError, "no free ports available")
			return
		}
		writeError(w, http.StatusInternalServerError, "deploy failed")
		return
	}

	err = s.store.CreateInstanceForUser(r.Context(), inst, user.ID, s.cfg.Sessions.MaxInstances)
	if err != nil {
		s.deployer.Discard(r.Context(), inst)
		if errors.Is(err, store.ErrQuotaExceeded) {
			writeError(w, http.StatusBadRequest, "instance limit reached")
			return
		}
		s.logger.Error().Err(err).Str("task", task.Name).Msg("persist instance failed")
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:       events.EventInstanceDeployed,
			Task:       inst.TaskName,
			InstanceID: inst.ID,
			UserID:     inst.UserID,
			Port:       inst.Port,
			Message:    "instance deployed",
		})
	}

	writeJSON(w, http.StatusOK, instancePayloadFrom(inst))
}

// ownedInstance resolves the request's instance and enforces
// ownership. Returns nil after writing the error response.
func (s *Server) ownedInstance(w http.ResponseWriter, r *http.Request) *types.Instance {
	user := userFrom(r)

	var req instanceRequest
	if !decodeBody(w, r, &req) {
		return nil
	}

	inst, err := s.store.FindInstanceByID(r.Context(), req.InstanceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return nil
	}
	if inst == nil {
		writeError(w, http.StatusBadRequest, "instance not found")
		return nil
	}
	if inst.UserID != user.ID {
		writeError(w, http.StatusForbidden, "not instance owner")
		return nil
	}
	return inst
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	inst := s.ownedInstance(w, r)
	if inst == nil {
		return
	}

	// Stopping a terminal instance is a no-op, not an error.
	if inst.Status.Terminal() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.deployer.Stop(r.Context(), inst); err != nil {
		s.logger.Error().Err(err).Uint("instance_id", inst.ID).Msg("stop failed")
		writeError(w, http.StatusInternalServerError, "stop failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	inst := s.ownedInstance(w, r)
	if inst == nil {
		return
	}

	// Terminal states are final; a stopped instance is redeployed, not
	// restarted.
	if inst.Status != types.StatusRunning {
		writeError(w, http.StatusBadRequest, "instance not running")
		return
	}

	if err := s.deployer.Restart(r.Context(), inst); err != nil {
		s.logger.Error().Err(err).Uint("instance_id", inst.ID).Msg("restart failed")
		writeError(w, http.StatusInternalServerError, "restart failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	inst := s.ownedInstance(w, r)
	if inst == nil {
		return
	}

	if inst.Status != types.StatusRunning {
		writeError(w, http.StatusBadRequest, "instance not running")
		return
	}

	if err := s.deployer.Extend(r.Context(), inst, s.cfg.ExtendTime()); err != nil {
		s.logger.Error().Err(err).Uint("instance_id", inst.ID).Msg("extend failed")
		writeError(w, http.StatusInternalServerError, "extend failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInstances lists the caller's running instances.
func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	instances, err := s.store.ListInstancesForUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	now := time.Now().UTC()
	items := make([]instanceSummary, len(instances))
	for i := range instances {
		inst := &instances[i]
		items[i] = instanceSummary{
			ID:            inst.ID,
			TaskName:      inst.TaskName,
			ExpiresInSecs: inst.ExpiresIn(now),
			Endpoint:      inst.Endpoint,
			Status:        string(inst.Status),
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleTasks lists deployable tasks with their routing shape from
// configuration. The "_default" entry is a template, never a task.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	items := make([]taskSummary, 0, len(tasks))
	for _, task := range tasks {
		if task.Name == "_default" {
			continue
		}
		tc := s.cfg.TaskConfig(task.Name)
		items = append(items, taskSummary{
			Name:          task.Name,
			Protocol:      tc.Protocol,
			ContainerPort: tc.ContainerPort,
		})
	}
	writeJSON(w, http.StatusOK, items)
}
