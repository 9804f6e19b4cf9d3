package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"brownie.dev/internal/auth"
	"brownie.dev/internal/metadata"
)

type createOrganizationRequest struct {
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	Description     string `json:"description"`
	MaxTeams        int    `json:"max_teams"`
	MaxUsersPerTeam int    `json:"max_users_per_team"`
}

type updateOrganizationRequest struct {
	Name            *string `json:"name"`
	Slug            *string `json:"slug"`
	Description     *string `json:"description"`
	IsActive        *bool   `json:"is_active"`
	MaxTeams        *int    `json:"max_teams"`
	MaxUsersPerTeam *int    `json:"max_users_per_team"`
}

func (a *API) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.svc.CreateOrganization(r.Context(), p, metadata.OrganizationInput{
		Name:            req.Name,
		Slug:            req.Slug,
		Description:     req.Description,
		MaxTeams:        req.MaxTeams,
		MaxUsersPerTeam: req.MaxUsersPerTeam,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "organization.create", zap.String("org_id", org.ID))
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", org.ID))
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	orgs, err := a.svc.ListOrganizations(r.Context(), p)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orgs})
}

func (a *API) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	org, err := a.svc.GetOrganization(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req updateOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.svc.UpdateOrganization(r.Context(), p, mux.Vars(r)["id"], metadata.OrganizationUpdate{
		Name:            req.Name,
		Slug:            req.Slug,
		Description:     req.Description,
		IsActive:        req.IsActive,
		MaxTeams:        req.MaxTeams,
		MaxUsersPerTeam: req.MaxUsersPerTeam,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "organization.update", zap.String("org_id", org.ID))
	writeJSON(w, http.StatusOK, org)
}

type createTeamRequest struct {
	Name        string                     `json:"name"`
	Slug        string                     `json:"slug"`
	Description string                     `json:"description"`
	Permissions map[string]map[string]bool `json:"permissions"`
}

type updateTeamRequest struct {
	Name        *string                    `json:"name"`
	Slug        *string                    `json:"slug"`
	Description *string                    `json:"description"`
	IsActive    *bool                      `json:"is_active"`
	Permissions map[string]map[string]bool `json:"permissions"`
}

func (a *API) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	team, err := a.svc.CreateTeam(r.Context(), p, mux.Vars(r)["id"], metadata.TeamInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "team.create", zap.String("team_id", team.ID))
	w.Header().Set("Location", fmt.Sprintf("/v1/teams/%s", team.ID))
	writeJSON(w, http.StatusCreated, team)
}

func (a *API) handleListTeams(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	teams, err := a.svc.ListTeams(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": teams})
}

func (a *API) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	team, err := a.svc.GetTeam(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (a *API) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req updateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	team, err := a.svc.UpdateTeam(r.Context(), p, mux.Vars(r)["id"], metadata.TeamUpdate{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		IsActive:    req.IsActive,
		Permissions: req.Permissions,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "team.update", zap.String("team_id", team.ID))
	writeJSON(w, http.StatusOK, team)
}

type memberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type memberRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleAddTeamMember(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req memberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	role := auth.RoleMember
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := auth.ParseRole(req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role = parsed
	}
	teamID := mux.Vars(r)["id"]
	user, err := a.svc.AddTeamMember(r.Context(), p, teamID, req.UserID, role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "team.member.add",
		zap.String("team_id", teamID),
		zap.String("member_id", user.ID),
		zap.String("role", string(user.Role)))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUpdateTeamMemberRole(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req memberRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	vars := mux.Vars(r)
	user, err := a.svc.UpdateTeamMemberRole(r.Context(), p, vars["id"], vars["uid"], role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "team.member.role",
		zap.String("team_id", vars["id"]),
		zap.String("member_id", user.ID),
		zap.String("role", string(user.Role)))
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleRemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := a.svc.RemoveTeamMember(r.Context(), p, vars["id"], vars["uid"]); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "team.member.remove",
		zap.String("team_id", vars["id"]),
		zap.String("member_id", vars["uid"]))
	w.WriteHeader(http.StatusNoContent)
}

type createUserRequest struct {
	Email      string         `json:"email"`
	Username   string         `json:"username"`
	FullName   string         `json:"full_name"`
	AvatarURL  string         `json:"avatar_url"`
	Password   string         `json:"password"`
	TeamID     string         `json:"team_id"`
	Role       string         `json:"role"`
	IsActive   *bool          `json:"is_active"`
	IsVerified bool           `json:"is_verified"`
	Prefs      map[string]any `json:"preferences"`
}

type updateUserRequest struct {
	Email      *string        `json:"email"`
	Username   *string        `json:"username"`
	FullName   *string        `json:"full_name"`
	AvatarURL  *string        `json:"avatar_url"`
	Password   *string        `json:"password"`
	Role       *string        `json:"role"`
	IsActive   *bool          `json:"is_active"`
	IsVerified *bool          `json:"is_verified"`
	Prefs      map[string]any `json:"preferences"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := auth.RoleMember
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := auth.ParseRole(req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role = parsed
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	user, err := a.svc.CreateUser(r.Context(), p, mux.Vars(r)["id"], metadata.UserInput{
		Email:      req.Email,
		Username:   req.Username,
		FullName:   req.FullName,
		AvatarURL:  req.AvatarURL,
		Password:   req.Password,
		TeamID:     req.TeamID,
		Role:       role,
		IsActive:   active,
		IsVerified: req.IsVerified,
		Prefs:      req.Prefs,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "user.create", zap.String("user_id", user.ID))
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users, err := a.svc.ListUsers(r.Context(), p, mux.Vars(r)["id"], page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(users, page.Limit, func(u metadata.User) string { return u.ID }))
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	user, err := a.svc.GetUser(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var role *auth.RoleName
	if req.Role != nil {
		parsed, err := auth.ParseRole(*req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role = &parsed
	}
	user, err := a.svc.UpdateUser(r.Context(), p, mux.Vars(r)["id"], metadata.UserUpdateInput{
		Email:      req.Email,
		Username:   req.Username,
		FullName:   req.FullName,
		AvatarURL:  req.AvatarURL,
		Password:   req.Password,
		Role:       role,
		IsActive:   req.IsActive,
		IsVerified: req.IsVerified,
		Prefs:      req.Prefs,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "user.update", zap.String("user_id", user.ID))
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.svc.DeleteUser(r.Context(), p, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = a.audit.Event(r.Context(), "user.delete", zap.String("user_id", id))
	w.WriteHeader(http.StatusNoContent)
}
