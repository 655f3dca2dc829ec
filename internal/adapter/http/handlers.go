package http

import (
	"net/http"

	"github.com/Strob0t/AgentForge/internal/domain/activity"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
	"github.com/Strob0t/AgentForge/internal/resilience"
	"github.com/Strob0t/AgentForge/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Records  *service.RecordService
	Deploy   *service.DeployService
	Pipeline *service.PipelineService

	// Optional health inputs.
	StoreDriver string
	Queue       messagequeue.Queue
	Clients     interface{ ConnectionCount() int }
	Breakers    []*resilience.Breaker
}

// --- Agents ---

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	handleList(h.Records.ListAgents)(w, r)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Records.GetAgent, "Agent not found")(w, r)
}

// GetAgentByName looks an agent up by its unique name.
func (h *Handlers) GetAgentByName(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	a, err := h.Records.GetAgentByName(r.Context(), name)
	if err != nil {
		writeDomainError(w, err, "Agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateAgent applies an operator edit. Only description, metadata and the
// running/paused toggle are editable.
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	handleUpdate(h.Records.UpdateAgent, "Agent not found")(w, r)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.Records.DeleteAgent, "Agent not found", "Agent deleted successfully")(w, r)
}

func (h *Handlers) ListAgentBlueprints(w http.ResponseWriter, r *http.Request) {
	handleListByID(h.Records.ListAgentBlueprints, "Agent not found")(w, r)
}

func (h *Handlers) ListAgentDeployments(w http.ResponseWriter, r *http.Request) {
	handleListByID(h.Records.ListAgentDeployments, "Agent not found")(w, r)
}

// ListAgentLogs returns the activity of one agent, honoring ?limit.
func (h *Handlers) ListAgentLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	limit, ok := optionalIntQuery(w, r, "limit")
	if !ok {
		return
	}
	logs, err := h.Records.ListActivity(r.Context(), activity.ListOptions{Limit: limit, AgentID: &id})
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeList(w, logs)
}

// --- Blueprints ---

func (h *Handlers) ListBlueprints(w http.ResponseWriter, r *http.Request) {
	handleList(h.Records.ListBlueprints)(w, r)
}

func (h *Handlers) GetBlueprint(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Records.GetBlueprint, "Blueprint not found")(w, r)
}

// --- Deployments ---

func (h *Handlers) ListDeployments(w http.ResponseWriter, r *http.Request) {
	handleList(h.Records.ListDeployments)(w, r)
}

func (h *Handlers) GetDeployment(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Records.GetDeployment, "Deployment not found")(w, r)
}

// StartDeployment validates the prompt and starts a run in the background.
func (h *Handlers) StartDeployment(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.DeployRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	runID, err := h.Deploy.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusAccepted, deployResponse{
		Message: "Deployment started",
		Status:  "initiated",
		RunID:   runID,
	})
}

type deployResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	RunID   string `json:"run_id"`
}

// --- Activity ---

// ListActivity returns activity logs filtered by ?limit and ?agent_id.
func (h *Handlers) ListActivity(w http.ResponseWriter, r *http.Request) {
	limit, ok := optionalIntQuery(w, r, "limit")
	if !ok {
		return
	}
	agentID, ok := optionalIntQuery(w, r, "agent_id")
	if !ok {
		return
	}
	opts := activity.ListOptions{Limit: limit}
	if agentID != nil {
		opts.AgentID = agent.Ptr(int64(*agentID))
	}
	logs, err := h.Records.ListActivity(r.Context(), opts)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeList(w, logs)
}

// --- Stats & health ---

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Records.Stats(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type healthStatus struct {
	Status    string            `json:"status"`
	Store     string            `json:"store"`
	NATS      string            `json:"nats"`
	InFlight  int64             `json:"in_flight"`
	WSClients int               `json:"ws_clients"`
	Breakers  map[string]string `json:"breakers"`
}

// Health reports service status. An open breaker or a lost NATS connection
// degrades the status but still answers 200.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	st := healthStatus{
		Status:   "ok",
		Store:    h.StoreDriver,
		NATS:     "disabled",
		Breakers: make(map[string]string, len(h.Breakers)),
	}
	if h.Queue != nil {
		st.NATS = "connected"
		if !h.Queue.IsConnected() {
			st.NATS = "disconnected"
			st.Status = "degraded"
		}
	}
	if h.Pipeline != nil {
		st.InFlight = h.Pipeline.InFlight()
	}
	if h.Clients != nil {
		st.WSClients = h.Clients.ConnectionCount()
	}
	for _, b := range h.Breakers {
		state := b.State()
		st.Breakers[b.Name()] = state
		if state == "open" {
			st.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, st)
}
