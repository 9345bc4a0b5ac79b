package gateway

import (
	"context"
	"net/http"

	"jobs-admin/client/internal/credential/domain"
)

// AuthClient calls the unauthenticated endpoints: login, refresh, logout and password reset.
// It must use a plain HTTP doer, never the request pipeline, so a refresh cannot recurse.
type AuthClient struct {
	c caller
}

// NewAuthClient returns an AuthClient for baseURL.
func NewAuthClient(baseURL string, doer Doer) *AuthClient {
	return &AuthClient{c: newCaller(baseURL, doer)}
}

// Login exchanges credentials for a token pair and the user. A 401 is reported as a
// validation error ("invalid credentials"), not as an expired session.
func (a *AuthClient) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	var resp LoginResponse
	if err := a.c.call(ctx, http.MethodPost, "/auth/login", OpLogin, "", req, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, malformed(http.StatusOK, "login response without tokens")
	}
	return &resp, nil
}

// Refresh mints a new access token. Any rejection of the refresh token is KindAuthInvalid.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	req := RefreshRequest{RefreshToken: refreshToken}
	if err := Validate(req); err != nil {
		return nil, &Error{Kind: KindAuthInvalid, Message: "no refresh token"}
	}
	var resp RefreshResponse
	if err := a.c.call(ctx, http.MethodPost, "/auth/token/refresh", OpRefresh, "", req, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, malformed(http.StatusOK, "refresh response without access token")
	}
	return &resp, nil
}

// Logout revokes the session remotely. The caller treats the result as best effort.
func (a *AuthClient) Logout(ctx context.Context, cred domain.Credential) error {
	return a.c.call(ctx, http.MethodPost, "/auth/logout", OpDefault, cred.AccessToken,
		LogoutRequest{RefreshToken: cred.RefreshToken}, nil)
}

// RequestPasswordReset asks the gateway to email a reset link.
func (a *AuthClient) RequestPasswordReset(ctx context.Context, req PasswordResetRequest) (string, error) {
	if err := Validate(req); err != nil {
		return "", err
	}
	var resp messageResponse
	if err := a.c.call(ctx, http.MethodPost, "/auth/password-reset-request", OpDefault, "", req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ConfirmPasswordReset sets a new password using the emailed reset token.
func (a *AuthClient) ConfirmPasswordReset(ctx context.Context, req PasswordResetConfirm) (string, error) {
	if err := Validate(req); err != nil {
		return "", err
	}
	var resp messageResponse
	if err := a.c.call(ctx, http.MethodPost, "/auth/password-reset-confirm", OpDefault, "", req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}
