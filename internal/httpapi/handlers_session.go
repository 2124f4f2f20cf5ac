package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/internal/runtimewire"
)

const defaultListLimit = 50

type startRequest struct {
	SessionID string `json:"session_id"`
	Request   string `json:"request"`
}

type replyRequest struct {
	Text       string             `json:"text"`
	Resolution *resolutionRequest `json:"resolution"`
}

type resolutionRequest struct {
	RequirementID string `json:"requirement_id"`
	Kind          string `json:"kind"`
	Outcome       string `json:"outcome"`
	Value         string `json:"value"`
}

func (h *handlers) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	var request startRequest
	if err := decodeJSONBody(r, &request); err != nil {
		writeMappedError(w, err)
		return
	}
	if strings.TrimSpace(request.Request) == "" {
		writeInvalidRequest(w, "request is required")
		return
	}
	if request.SessionID != "" && strings.TrimSpace(request.SessionID) == "" {
		writeInvalidRequest(w, "session_id must not be blank")
		return
	}

	result, err := h.runtime.Start(r.Context(), agent.RunID(strings.TrimSpace(request.SessionID)), request.Request)
	if !runtimewire.Recorded(result, err) {
		writeMappedError(w, err)
		return
	}
	writeSession(w, http.StatusCreated, result.State)
}

func (h *handlers) handleSessionReply(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	sessionID, err := pathSessionID(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	var request replyRequest
	if err := decodeJSONBody(r, &request); err != nil {
		writeMappedError(w, err)
		return
	}

	var result agent.RunResult
	switch {
	case request.Resolution != nil && request.Text != "":
		writeInvalidRequest(w, "text and resolution are mutually exclusive")
		return
	case request.Resolution != nil:
		result, err = h.runtime.Resolve(r.Context(), sessionID, toResolution(request.Resolution))
	default:
		result, err = h.runtime.Reply(r.Context(), sessionID, request.Text)
	}
	if !runtimewire.Recorded(result, err) {
		writeMappedError(w, err)
		return
	}
	writeSession(w, http.StatusOK, result.State)
}

func (h *handlers) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	sessionID, err := pathSessionID(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	result, err := h.runtime.Cancel(r.Context(), sessionID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeSession(w, http.StatusOK, result.State)
}

func (h *handlers) handleSessionQuery(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	sessionID, err := pathSessionID(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	state, err := h.runtime.Get(r.Context(), sessionID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeSession(w, http.StatusOK, state)
}

func (h *handlers) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeInvalidRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	summaries, ok, err := h.runtime.Sessions(r.Context(), limit)
	if !ok {
		writeError(w, http.StatusNotImplemented, errorCodeUnsupported, "session listing requires the sqlite store")
		return
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}

	out := make([]sessionSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, sessionSummaryResponse{
			SessionID: string(summary.ID),
			Status:    summary.Status,
			Stage:     summary.Stage,
			Version:   summary.Version,
			UpdatedAt: summary.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *handlers) handleWorkflows(w http.ResponseWriter, _ *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	type workflowResponse struct {
		Name         string   `json:"name"`
		Description  string   `json:"description,omitempty"`
		RequiredKeys []string `json:"required_keys"`
	}
	names := h.runtime.Catalog.Names()
	out := make([]workflowResponse, 0, len(names))
	for _, name := range names {
		tpl, err := h.runtime.Catalog.Get(name)
		if err != nil {
			continue
		}
		out = append(out, workflowResponse{Name: tpl.Name, Description: tpl.Description, RequiredKeys: tpl.RequiredKeys})
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": out})
}

func (h *handlers) ensureRuntime(w http.ResponseWriter) bool {
	if h.runtime == nil || h.runtime.Runner == nil || h.runtime.RunStore == nil || h.runtime.StreamBroker == nil {
		writeError(w, http.StatusInternalServerError, errorCodeRuntime, "runtime dependencies are not initialized")
		return false
	}
	return true
}

func toResolution(input *resolutionRequest) *agent.Resolution {
	return &agent.Resolution{
		RequirementID: strings.TrimSpace(input.RequirementID),
		Kind:          agent.RequirementKind(input.Kind),
		Outcome:       agent.ResolutionOutcome(input.Outcome),
		Value:         input.Value,
	}
}

func pathSessionID(r *http.Request) (agent.RunID, error) {
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		return "", agent.ErrInvalidRunID
	}
	return agent.RunID(sessionID), nil
}
