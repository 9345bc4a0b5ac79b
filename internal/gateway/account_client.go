package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	sessiondomain "jobs-admin/client/internal/session/domain"
	userdomain "jobs-admin/client/internal/user/domain"
)

// AccountClient calls the endpoints that need a signed-in user. Its doer is expected to be
// the request pipeline, which attaches the bearer token and repairs expired credentials.
type AccountClient struct {
	c caller
}

// NewAccountClient returns an AccountClient for baseURL.
func NewAccountClient(baseURL string, doer Doer) *AccountClient {
	return &AccountClient{c: newCaller(baseURL, doer)}
}

// Profile fetches the signed-in user.
func (a *AccountClient) Profile(ctx context.Context) (*userdomain.User, error) {
	var u userdomain.User
	if err := a.c.call(ctx, http.MethodGet, "/auth/profile", OpDefault, "", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateProfile patches the profile and returns the full updated user.
func (a *AccountClient) UpdateProfile(ctx context.Context, req ProfileUpdate) (*userdomain.User, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	var u userdomain.User
	if err := a.c.call(ctx, http.MethodPatch, "/auth/profile", OpDefault, "", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ChangePassword changes the signed-in user's password.
func (a *AccountClient) ChangePassword(ctx context.Context, req ChangePasswordRequest) (string, error) {
	if err := Validate(req); err != nil {
		return "", err
	}
	var resp messageResponse
	if err := a.c.call(ctx, http.MethodPost, "/auth/change-password", OpDefault, "", req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ListSessions returns the user's sessions. Both a bare array and {"sessions": [...]} /
// {"results": [...]} envelopes are accepted.
func (a *AccountClient) ListSessions(ctx context.Context) ([]sessiondomain.Session, error) {
	var raw json.RawMessage
	if err := a.c.call(ctx, http.MethodGet, "/auth/sessions", OpDefault, "", nil, &raw); err != nil {
		return nil, err
	}
	var list []sessiondomain.Session
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var env struct {
		Sessions []sessiondomain.Session `json:"sessions"`
		Results  []sessiondomain.Session `json:"results"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &Error{Kind: KindServer, Status: http.StatusOK, Message: "malformed response", Err: err}
	}
	if env.Sessions != nil {
		return env.Sessions, nil
	}
	if env.Results != nil {
		return env.Results, nil
	}
	return []sessiondomain.Session{}, nil
}

// InvalidateSession ends one session.
func (a *AccountClient) InvalidateSession(ctx context.Context, sessionID string) (*sessiondomain.InvalidateResult, error) {
	if sessionID == "" {
		return nil, &Error{Kind: KindValidation, Message: "session id is required", Fields: map[string][]string{"session_id": {"This field is required."}}}
	}
	return a.invalidate(ctx, "/auth/sessions/"+url.PathEscape(sessionID)+"/invalidate")
}

// InvalidateAllSessions ends every session of the user, the current one included.
func (a *AccountClient) InvalidateAllSessions(ctx context.Context) (*sessiondomain.InvalidateResult, error) {
	return a.invalidate(ctx, "/auth/sessions/invalidate-all")
}

// ForceLogoutCurrent ends the caller's own session.
func (a *AccountClient) ForceLogoutCurrent(ctx context.Context) (*sessiondomain.InvalidateResult, error) {
	return a.invalidate(ctx, "/auth/sessions/force-logout")
}

func (a *AccountClient) invalidate(ctx context.Context, path string) (*sessiondomain.InvalidateResult, error) {
	var res sessiondomain.InvalidateResult
	if err := a.c.call(ctx, http.MethodPost, path, OpDefault, "", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
