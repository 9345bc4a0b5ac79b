package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"jobs-admin/client/internal/auth/state"
	"jobs-admin/client/internal/gateway"
	"jobs-admin/client/internal/pipeline"
	"jobs-admin/client/internal/session"
	userdomain "jobs-admin/client/internal/user/domain"
)

var errSignedOut = errors.New("not signed in; run adminctl login")

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("adminctl "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// restore resumes the stored session and fails when there is none.
func (a *app) restore(ctx context.Context) (*userdomain.User, error) {
	user, err := a.state.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errSignedOut
	}
	return user, nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlags("login")
	login := fs.String("login", "", "Username or email")
	password := fs.String("password", "", "Password (read from stdin when empty)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		*password = strings.TrimRight(line, "\r\n")
	}

	user, err := a.state.Login(ctx, gateway.LoginRequest{Login: *login, Password: *password})
	if err != nil {
		return err
	}
	if !user.IsAdmin() {
		log.Warn().Str("user_type", string(user.UserType)).Msg("signed in without admin rights")
	}
	return printJSON(user)
}

func (a *app) logout(ctx context.Context) error {
	if err := a.state.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	user, err := a.restore(ctx)
	if err != nil {
		return err
	}
	cred, err := a.keeper.Load(ctx)
	if err != nil {
		return err
	}
	out := struct {
		*userdomain.User
		DisplayName     string `json:"display_name"`
		Admin           bool   `json:"admin"`
		AccessExpiresAt string `json:"access_expires_at,omitempty"`
	}{User: user, DisplayName: user.DisplayName(), Admin: a.state.IsAdmin()}
	if cred != nil {
		out.AccessExpiresAt = cred.AccessExpiresAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return printJSON(out)
}

func (a *app) can(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	if _, err := a.restore(ctx); err != nil {
		return err
	}
	ok, err := a.state.Can(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"action": args[0], "resource": args[1], "allowed": ok})
}

func (a *app) sessions(ctx context.Context, args []string) error {
	if _, err := a.restore(ctx); err != nil {
		return err
	}
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		list, err := a.registry.List(ctx)
		if err != nil {
			return err
		}
		current := -1
		if cred, _ := a.keeper.Load(ctx); cred != nil {
			if i, ok := session.Current(list, cred.AccessToken); ok {
				current = i
			}
		}
		out := make([]map[string]any, 0, len(list))
		for i, s := range list {
			out = append(out, map[string]any{
				"current":       i == current,
				"session_id":    s.SessionID,
				"ip_address":    s.IPAddress,
				"device":        s.DeviceInfo,
				"created_at":    s.CreatedAt,
				"last_activity": s.LastActivity,
				"expires_at":    s.ExpiresAt,
				"is_active":     s.IsActive,
			})
		}
		return printJSON(out)
	case "invalidate":
		if len(args) != 1 {
			return errUsage
		}
		res, err := a.registry.Invalidate(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(res)
	case "invalidate-all":
		res, err := a.registry.InvalidateAll(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	case "force-logout":
		res, err := a.registry.ForceLogoutCurrent(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	return errUsage
}

func (a *app) profile(ctx context.Context, args []string) error {
	if _, err := a.restore(ctx); err != nil {
		return err
	}
	if len(args) == 0 || args[0] == "show" {
		return printJSON(a.state.User())
	}
	if args[0] != "update" {
		return errUsage
	}

	fs := newFlags("profile update")
	var req gateway.ProfileUpdate
	fs.StringVar(&req.FirstName, "first-name", "", "First name")
	fs.StringVar(&req.LastName, "last-name", "", "Last name")
	fs.StringVar(&req.Email, "email", "", "Email")
	fs.StringVar(&req.Phone, "phone", "", "Phone in E.164 form")
	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}
	user, err := a.state.UpdateProfile(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(user)
}

func (a *app) password(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	fs := newFlags("password " + args[0])
	var msg string
	var err error

	switch args[0] {
	case "change":
		var req gateway.ChangePasswordRequest
		fs.StringVar(&req.OldPassword, "old", "", "Current password")
		fs.StringVar(&req.NewPassword, "new", "", "New password")
		if fs.Parse(args[1:]) != nil {
			return errUsage
		}
		req.ConfirmPassword = req.NewPassword
		if _, err := a.restore(ctx); err != nil {
			return err
		}
		msg, err = a.state.ChangePassword(ctx, req)
	case "reset-request":
		var req gateway.PasswordResetRequest
		fs.StringVar(&req.Email, "email", "", "Account email")
		if fs.Parse(args[1:]) != nil {
			return errUsage
		}
		msg, err = a.state.RequestPasswordReset(ctx, req)
	case "reset-confirm":
		var req gateway.PasswordResetConfirm
		fs.StringVar(&req.Token, "token", "", "Reset token from the email")
		fs.StringVar(&req.NewPassword, "new", "", "New password")
		if fs.Parse(args[1:]) != nil {
			return errUsage
		}
		msg, err = a.state.ConfirmPasswordReset(ctx, req)
	default:
		return errUsage
	}
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

// request sends an arbitrary authenticated call to the gateway and prints the response body.
func (a *app) request(ctx context.Context, args []string) error {
	fs := newFlags("request")
	data := fs.String("data", "", "JSON request body")
	if err := fs.Parse(args); err != nil || fs.NArg() != 2 {
		return errUsage
	}
	method, path := strings.ToUpper(fs.Arg(0)), fs.Arg(1)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if _, err := a.restore(ctx); err != nil {
		return err
	}

	var body io.Reader
	if *data != "" {
		if !json.Valid([]byte(*data)) {
			return errors.New("request: -data is not valid JSON")
		}
		body = strings.NewReader(*data)
	}
	req, err := pipeline.NewRequest(ctx, method, strings.TrimRight(a.cfg.GatewayBaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	resp, err := a.pipeline.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

// watch keeps the session alive with proactive renewal and logs every state change until
// interrupted or signed out.
func (a *app) watch(ctx context.Context) error {
	signedOut := make(chan state.Snapshot, 1)
	unsubscribe := a.state.Subscribe(func(snap state.Snapshot) {
		log.Info().Str("event", snap.Event).Str("reason", snap.Reason).Bool("authenticated", snap.Authenticated()).
			Msg("adminctl: auth state")
		if snap.Event == state.EventForcedLogout || snap.Event == state.EventLogout {
			select {
			case signedOut <- snap:
			default:
			}
		}
	})
	defer unsubscribe()

	user, err := a.restore(ctx)
	if err != nil {
		return err
	}
	next, _ := a.sched.NextFire()
	log.Info().Int64("user_id", user.ID).Time("next_refresh", next).Msg("adminctl: watching session")

	select {
	case <-ctx.Done():
		return nil
	case snap := <-signedOut:
		return fmt.Errorf("signed out (%s)", snap.Reason)
	}
}
