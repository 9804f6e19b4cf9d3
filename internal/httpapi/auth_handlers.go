package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"brownie.dev/internal/metadata"
)

type signupRequest struct {
	Email            string `json:"email"`
	Username         string `json:"username"`
	FullName         string `json:"full_name"`
	Password         string `json:"password"`
	OrganizationName string `json:"organization_name"`
	TeamName         string `json:"team_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string        `json:"access_token"`
	TokenType string        `json:"token_type"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      metadata.User `json:"user"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Signup(r.Context(), metadata.SignupInput{
		Email:            req.Email,
		Username:         req.Username,
		FullName:         req.FullName,
		Password:         req.Password,
		OrganizationName: req.OrganizationName,
		TeamName:         req.TeamName,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	token, expiresAt, err := a.tokens.Issue(user.ID, user.OrgID, user.Email, []string{string(user.Role)}, 0)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	_ = a.audit.Event(r.Context(), "auth.signup",
		zap.String("user_id", user.ID),
		zap.String("org_id", user.OrgID))
	writeJSON(w, http.StatusCreated, tokenResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresAt: expiresAt,
		User:      user,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	token, expiresAt, err := a.tokens.Issue(user.ID, user.OrgID, user.Email, []string{string(user.Role)}, 0)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	_ = a.audit.Event(r.Context(), "auth.login", zap.String("user_id", user.ID))
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresAt: expiresAt,
		User:      user,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	user, err := a.svc.GetUser(r.Context(), p, p.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SSO flows run through an external identity provider deployment; this
// build only reserves the routes.
func (a *API) handleOktaStub(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotImplemented, "okta sso is not enabled on this deployment")
}
