package gatewaytest

import (
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"jobs-admin/client/internal/gateway"
	"jobs-admin/client/internal/security"
	sessiondomain "jobs-admin/client/internal/session/domain"
)

type invalidateResponse struct {
	ForceLogout bool   `json:"force_logout"`
	Message     string `json:"message"`
	Count       int    `json:"invalidated_count"`
}

func (g *Gateway) login(w http.ResponseWriter, r *http.Request) {
	var req gateway.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	fields := map[string][]string{}
	if req.Login == "" {
		fields["login"] = []string{"This field is required."}
	}
	if req.Password == "" {
		fields["password"] = []string{"This field is required."}
	}
	if len(fields) > 0 {
		writeError(w, http.StatusBadRequest, "Invalid input.", fields)
		return
	}

	g.mu.Lock()
	a := g.findLogin(req.Login)
	g.mu.Unlock()
	// Compare outside the lock; bcrypt is slow.
	if a == nil || !g.hasher.Matches(a.passwordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials.", nil)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now().UTC()
	s := &session{
		id:        uuid.NewString(),
		userID:    a.user.ID,
		ipAddress: clientIP(r),
		device:    deviceInfo(r.UserAgent()),
		createdAt: now,
		expiresAt: now.Add(sessionTTL),
	}
	access, refresh, err := g.issueLocked(s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not issue tokens.", nil)
		return
	}
	g.sessions[s.id] = s
	writeJSON(w, http.StatusOK, gateway.LoginResponse{
		User:            a.user,
		AccessToken:     access.Token,
		RefreshToken:    refresh.Token,
		AccessExpiresAt: &access.ExpiresAt,
	})
}

// refresh rotates the refresh token. Presenting an already-rotated refresh token is
// treated as theft and ends every session of the user.
func (g *Gateway) refresh(w http.ResponseWriter, r *http.Request) {
	var req gateway.RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	g.mu.Lock()
	g.refreshCalls++
	failure, delay := g.refreshFailure, g.refreshDelay
	g.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if failure != 0 {
		writeError(w, failure, http.StatusText(failure), nil)
		return
	}

	claims, err := g.tokens.ValidateRefresh(req.RefreshToken)
	if err != nil {
		writeTokenInvalid(w)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.sessions[claims.SessionID]
	if s == nil || !s.active(g.now()) {
		writeTokenInvalid(w)
		return
	}
	if s.refreshJTI != claims.ID || !security.TokenHashEqual(req.RefreshToken, s.refreshHash) {
		g.revokeUserSessions(s.userID)
		writeError(w, http.StatusUnauthorized, "Refresh token reuse detected; all sessions revoked.", nil)
		return
	}
	access, refresh, err := g.issueLocked(s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not issue tokens.", nil)
		return
	}
	writeJSON(w, http.StatusOK, gateway.RefreshResponse{
		AccessToken:     access.Token,
		RefreshToken:    refresh.Token,
		AccessExpiresAt: &access.ExpiresAt,
	})
}

// logout ends the session named by the refresh token, or by the bearer token when the body
// has none. Unknown tokens are ignored.
func (g *Gateway) logout(w http.ResponseWriter, r *http.Request) {
	var req gateway.LogoutRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	var sessionID string
	if claims, err := g.tokens.ValidateRefresh(req.RefreshToken); err == nil {
		sessionID = claims.SessionID
	} else if claims, err := g.tokens.ValidateAccess(extractBearer(r)); err == nil {
		sessionID = claims.SessionID
	}

	g.mu.Lock()
	if s := g.sessions[sessionID]; s != nil {
		g.revokeLocked(s)
	}
	g.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out."})
}

func (g *Gateway) passwordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req gateway.PasswordResetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "Invalid input.", map[string][]string{"email": {"This field is required."}})
		return
	}
	g.mu.Lock()
	if a := g.findLogin(req.Email); a != nil && strings.EqualFold(a.user.Email, req.Email) {
		token := uuid.NewString()
		g.resets[security.HashToken(token)] = a.user.ID
		g.lastReset[strings.ToLower(req.Email)] = token
	}
	g.mu.Unlock()
	// Same answer whether or not the address is registered.
	writeJSON(w, http.StatusOK, map[string]string{"message": "If the address is registered, a reset link has been sent."})
}

func (g *Gateway) passwordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req gateway.PasswordResetConfirm
	if !decode(w, r, &req) {
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "Invalid input.", map[string][]string{"new_password": {"Ensure this field has at least 8 characters."}})
		return
	}
	hash, err := g.hasher.Hash(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not set password.", nil)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	key := security.HashToken(req.Token)
	userID, ok := g.resets[key]
	a := g.accounts[userID]
	if !ok || a == nil {
		writeError(w, http.StatusBadRequest, "Invalid or expired reset token.", map[string][]string{"token": {"Invalid or expired reset token."}})
		return
	}
	delete(g.resets, key)
	a.passwordHash = hash
	g.revokeUserSessions(userID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset."})
}

func (g *Gateway) profile(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r.Context())
	g.mu.Lock()
	a := g.accounts[userID]
	g.mu.Unlock()
	if a == nil {
		writeError(w, http.StatusNotFound, "User not found.", nil)
		return
	}
	writeJSON(w, http.StatusOK, a.user)
}

func (g *Gateway) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req gateway.ProfileUpdate
	if !decode(w, r, &req) {
		return
	}
	userID, _ := identity(r.Context())

	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.accounts[userID]
	if a == nil {
		writeError(w, http.StatusNotFound, "User not found.", nil)
		return
	}
	if req.Email != "" && !strings.EqualFold(req.Email, a.user.Email) {
		for _, other := range g.accounts {
			if other != a && strings.EqualFold(other.user.Email, req.Email) {
				writeError(w, http.StatusBadRequest, "Invalid input.", map[string][]string{"email": {"A user with that email already exists."}})
				return
			}
		}
		a.user.Email = req.Email
		a.user.EmailVerified = false
	}
	if req.FirstName != "" {
		a.user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		a.user.LastName = req.LastName
	}
	if req.Phone != "" {
		a.user.Phone = req.Phone
	}
	writeJSON(w, http.StatusOK, a.user)
}

func (g *Gateway) changePassword(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	userID, _ := identity(r.Context())
	g.mu.Lock()
	a := g.accounts[userID]
	g.mu.Unlock()
	if a == nil {
		writeError(w, http.StatusNotFound, "User not found.", nil)
		return
	}
	if !g.hasher.Matches(a.passwordHash, req.OldPassword) {
		writeError(w, http.StatusBadRequest, "Invalid input.", map[string][]string{"old_password": {"Wrong password."}})
		return
	}
	if len(req.NewPassword) < 8 || req.NewPassword != req.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "Invalid input.", map[string][]string{"new_password": {"Passwords must match and have at least 8 characters."}})
		return
	}
	hash, err := g.hasher.Hash(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not set password.", nil)
		return
	}
	g.mu.Lock()
	a.passwordHash = hash
	g.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed."})
}

func (g *Gateway) listSessions(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r.Context())
	g.mu.Lock()
	now := g.now()
	list := make([]sessiondomain.Session, 0)
	for _, s := range g.sessions {
		if s.userID == userID && s.active(now) {
			list = append(list, s.view(now))
		}
	}
	g.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (g *Gateway) invalidateSession(w http.ResponseWriter, r *http.Request) {
	userID, current := identity(r.Context())
	id := mux.Vars(r)["id"]

	g.mu.Lock()
	s := g.sessions[id]
	if s == nil || s.userID != userID || !s.active(g.now()) {
		g.mu.Unlock()
		writeError(w, http.StatusNotFound, "Session not found.", nil)
		return
	}
	g.revokeLocked(s)
	g.mu.Unlock()
	writeJSON(w, http.StatusOK, invalidateResponse{ForceLogout: id == current, Message: "Session invalidated.", Count: 1})
}

func (g *Gateway) invalidateAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r.Context())
	g.mu.Lock()
	n := g.revokeUserSessions(userID)
	g.mu.Unlock()
	writeJSON(w, http.StatusOK, invalidateResponse{ForceLogout: true, Message: "All sessions invalidated.", Count: n})
}

func (g *Gateway) forceLogout(w http.ResponseWriter, r *http.Request) {
	_, current := identity(r.Context())
	g.mu.Lock()
	if s := g.sessions[current]; s != nil {
		g.revokeLocked(s)
	}
	g.mu.Unlock()
	writeJSON(w, http.StatusOK, invalidateResponse{ForceLogout: true, Message: "Logged out.", Count: 1})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body.", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string, fields map[string][]string) {
	body := map[string]any{"detail": detail}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	writeJSON(w, status, body)
}

func writeTokenInvalid(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"detail": "Given token not valid for any token type",
		"code":   "token_not_valid",
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// deviceInfo makes a rough guess from the User-Agent; good enough for a session list.
func deviceInfo(ua string) sessiondomain.DeviceInfo {
	d := sessiondomain.DeviceInfo{Browser: "Other", OS: "Other", DeviceType: "desktop"}
	l := strings.ToLower(ua)
	switch {
	case strings.Contains(l, "firefox"):
		d.Browser = "Firefox"
	case strings.Contains(l, "edg/"):
		d.Browser = "Edge"
	case strings.Contains(l, "chrome"):
		d.Browser = "Chrome"
	case strings.Contains(l, "safari"):
		d.Browser = "Safari"
	case strings.Contains(l, "go-http-client"):
		d.Browser = "Go HTTP client"
	}
	switch {
	case strings.Contains(l, "android"):
		d.OS, d.DeviceType = "Android", "mobile"
	case strings.Contains(l, "iphone"), strings.Contains(l, "ipad"):
		d.OS, d.DeviceType = "iOS", "mobile"
	case strings.Contains(l, "windows"):
		d.OS = "Windows"
	case strings.Contains(l, "mac os"):
		d.OS = "macOS"
	case strings.Contains(l, "linux"):
		d.OS = "Linux"
	}
	return d
}
