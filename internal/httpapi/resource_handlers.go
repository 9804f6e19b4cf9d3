package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"brownie.dev/internal/metadata"
)

const idempotencyKeyHeader = "Idempotency-Key"

type createIncidentRequest struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Status         string         `json:"status"`
	Priority       string         `json:"priority"`
	AssignedTo     string         `json:"assigned_to"`
	Tags           []string       `json:"tags"`
	Metadata       map[string]any `json:"metadata"`
	IdempotencyKey string         `json:"idempotency_key"`
}

type updateIncidentRequest struct {
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	Status      *string        `json:"status"`
	Priority    *string        `json:"priority"`
	AssignedTo  *string        `json:"assigned_to"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
}

func (a *API) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createIncidentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var status metadata.IncidentStatus
	if strings.TrimSpace(req.Status) != "" {
		parsed, err := metadata.ParseIncidentStatus(req.Status)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		status = parsed
	}
	var priority metadata.IncidentPriority
	if strings.TrimSpace(req.Priority) != "" {
		parsed, err := metadata.ParseIncidentPriority(req.Priority)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		priority = parsed
	}
	// The key can ride in the body or the Idempotency-Key header; the
	// header wins when both are present.
	key := req.IdempotencyKey
	if h := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)); h != "" {
		key = h
	}
	teamID := mux.Vars(r)["id"]
	inc, err := a.svc.CreateIncident(r.Context(), p, teamID, metadata.IncidentInput{
		Title:          req.Title,
		Description:    req.Description,
		Status:         status,
		Priority:       priority,
		AssignedTo:     req.AssignedTo,
		Tags:           req.Tags,
		Metadata:       req.Metadata,
		IdempotencyKey: key,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "incident.create",
		zap.String("incident_id", inc.ID),
		zap.String("team_id", teamID))
	w.Header().Set("Location", fmt.Sprintf("/v1/incidents/%s", inc.ID))
	writeJSON(w, http.StatusCreated, inc)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	var filter metadata.IncidentFilter
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := metadata.ParseIncidentStatus(raw)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(q.Get("priority")); raw != "" {
		priority, err := metadata.ParseIncidentPriority(raw)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		filter.Priority = priority
	}
	since, err := parseTimeParam(q.Get("since"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter.Since = since
	filter.Query = strings.TrimSpace(q.Get("q"))

	incidents, err := a.svc.ListIncidents(r.Context(), p, mux.Vars(r)["id"], filter, page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(incidents, page.Limit, func(i metadata.Incident) string { return i.ID }))
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	inc, err := a.svc.GetIncident(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleUpdateIncident(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req updateIncidentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := metadata.IncidentUpdateInput{
		Title:       req.Title,
		Description: req.Description,
		AssignedTo:  req.AssignedTo,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
	}
	if req.Status != nil {
		status, err := metadata.ParseIncidentStatus(*req.Status)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		in.Status = &status
	}
	if req.Priority != nil {
		priority, err := metadata.ParseIncidentPriority(*req.Priority)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		in.Priority = &priority
	}
	inc, err := a.svc.UpdateIncident(r.Context(), p, mux.Vars(r)["id"], in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "incident.update", zap.String("incident_id", inc.ID))
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleDeleteIncident(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.svc.DeleteIncident(r.Context(), p, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "incident.delete", zap.String("incident_id", id))
	w.WriteHeader(http.StatusNoContent)
}

type createAgentConfigRequest struct {
	Name                    string         `json:"name"`
	Description             string         `json:"description"`
	AgentType               string         `json:"agent_type"`
	IsActive                *bool          `json:"is_active"`
	Config                  map[string]any `json:"config"`
	ExecutionTimeoutSeconds int            `json:"execution_timeout_seconds"`
	MaxRetries              int            `json:"max_retries"`
	RetryDelaySeconds       int            `json:"retry_delay_seconds"`
	Triggers                []string       `json:"triggers"`
	Conditions              map[string]any `json:"conditions"`
	Tags                    []string       `json:"tags"`
	Metadata                map[string]any `json:"metadata"`
}

type updateAgentConfigRequest struct {
	Name                    *string        `json:"name"`
	Description             *string        `json:"description"`
	AgentType               *string        `json:"agent_type"`
	IsActive                *bool          `json:"is_active"`
	Config                  map[string]any `json:"config"`
	ExecutionTimeoutSeconds *int           `json:"execution_timeout_seconds"`
	MaxRetries              *int           `json:"max_retries"`
	RetryDelaySeconds       *int           `json:"retry_delay_seconds"`
	Triggers                []string       `json:"triggers"`
	Conditions              map[string]any `json:"conditions"`
	Tags                    []string       `json:"tags"`
	Metadata                map[string]any `json:"metadata"`
}

func (a *API) handleCreateAgentConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createAgentConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	agentType, err := metadata.ParseAgentType(req.AgentType)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	teamID := mux.Vars(r)["id"]
	cfg, err := a.svc.CreateAgentConfig(r.Context(), p, teamID, metadata.AgentConfigInput{
		Name:                    req.Name,
		Description:             req.Description,
		AgentType:               agentType,
		IsActive:                active,
		Config:                  req.Config,
		ExecutionTimeoutSeconds: req.ExecutionTimeoutSeconds,
		MaxRetries:              req.MaxRetries,
		RetryDelaySeconds:       req.RetryDelaySeconds,
		Triggers:                req.Triggers,
		Conditions:              req.Conditions,
		Tags:                    req.Tags,
		Metadata:                req.Metadata,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "agent_config.create",
		zap.String("config_id", cfg.ID),
		zap.String("team_id", teamID))
	w.Header().Set("Location", fmt.Sprintf("/v1/agent-configs/%s", cfg.ID))
	w.Header().Set("ETag", strconv.Itoa(cfg.Version))
	writeJSON(w, http.StatusCreated, cfg)
}

func (a *API) handleListAgentConfigs(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	var filter metadata.AgentConfigFilter
	if raw := strings.TrimSpace(q.Get("agent_type")); raw != "" {
		agentType, err := metadata.ParseAgentType(raw)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		filter.AgentType = agentType
	}
	if raw := strings.TrimSpace(q.Get("is_active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "is_active must be a boolean")
			return
		}
		filter.IsActive = &active
	}
	configs, err := a.svc.ListAgentConfigs(r.Context(), p, mux.Vars(r)["id"], filter, page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(configs, page.Limit, func(c metadata.AgentConfig) string { return c.ID }))
}

func (a *API) handleGetAgentConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	cfg, err := a.svc.GetAgentConfig(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Itoa(cfg.Version))
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handleUpdateAgentConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req updateAgentConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := metadata.AgentConfigUpdateInput{
		Name:                    req.Name,
		Description:             req.Description,
		IsActive:                req.IsActive,
		Config:                  req.Config,
		ExecutionTimeoutSeconds: req.ExecutionTimeoutSeconds,
		MaxRetries:              req.MaxRetries,
		RetryDelaySeconds:       req.RetryDelaySeconds,
		Triggers:                req.Triggers,
		Conditions:              req.Conditions,
		Tags:                    req.Tags,
		Metadata:                req.Metadata,
	}
	if req.AgentType != nil {
		agentType, err := metadata.ParseAgentType(*req.AgentType)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		in.AgentType = &agentType
	}
	// An absent If-Match header performs an unconditional update; a
	// supplied one opts into the version check.
	expectedVersion := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	cfg, err := a.svc.UpdateAgentConfig(r.Context(), p, mux.Vars(r)["id"], expectedVersion, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "agent_config.update",
		zap.String("config_id", cfg.ID),
		zap.Int("version", cfg.Version))
	w.Header().Set("ETag", strconv.Itoa(cfg.Version))
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handleDeleteAgentConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.svc.DeleteAgentConfig(r.Context(), p, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "agent_config.delete", zap.String("config_id", id))
	w.WriteHeader(http.StatusNoContent)
}

type createStatRequest struct {
	MetricName  string            `json:"metric_name"`
	MetricType  string            `json:"metric_type"`
	Value       float64           `json:"value"`
	Count       int64             `json:"count"`
	Timestamp   *time.Time        `json:"timestamp"`
	TimeWindow  string            `json:"time_window"`
	Labels      map[string]string `json:"labels"`
	Description string            `json:"description"`
	Unit        string            `json:"unit"`
}

func (a *API) handleCreateStat(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createStatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := metadata.StatInput{
		MetricName:  req.MetricName,
		MetricType:  req.MetricType,
		Value:       req.Value,
		Count:       req.Count,
		TimeWindow:  req.TimeWindow,
		Labels:      req.Labels,
		Description: req.Description,
		Unit:        req.Unit,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}
	st, err := a.svc.CreateStat(r.Context(), p, mux.Vars(r)["id"], in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (a *API) handleListStats(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := metadata.StatFilter{
		MetricName: strings.TrimSpace(q.Get("metric_name")),
		MetricType: strings.TrimSpace(q.Get("metric_type")),
	}
	since, err := parseTimeParam(q.Get("since"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter.Since = since
	until, err := parseTimeParam(q.Get("until"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter.Until = until

	stats, err := a.svc.ListStats(r.Context(), p, mux.Vars(r)["id"], filter, page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(stats, page.Limit, func(s metadata.Stat) string { return s.ID }))
}
