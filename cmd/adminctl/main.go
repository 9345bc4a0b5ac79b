// adminctl is the command-line admin client for the jobs marketplace. It signs in against the
// auth gateway, keeps the credential in the configured store and sends authenticated requests.
//
// Usage:
//
//	adminctl login -login <user|email> [-password <pw>]
//	adminctl logout
//	adminctl whoami
//	adminctl can <action> <resource>
//	adminctl sessions [list | invalidate <id> | invalidate-all | force-logout]
//	adminctl profile [show | update -first-name .. -last-name .. -email .. -phone ..]
//	adminctl password [change -old .. -new .. | reset-request -email .. | reset-confirm -token .. -new ..]
//	adminctl request [-data <json>] <METHOD> <path>
//	adminctl watch
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"jobs-admin/client/internal/config"
	"jobs-admin/client/internal/logger"
)

var errUsage = errors.New("usage: adminctl <login|logout|whoami|can|sessions|profile|password|request|watch> [args]")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, errUsage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("adminctl: startup")
		os.Exit(1)
	}

	err = run(ctx, a, os.Args[1], os.Args[2:])
	a.close()
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "adminctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "can":
		return a.can(ctx, args)
	case "sessions":
		return a.sessions(ctx, args)
	case "profile":
		return a.profile(ctx, args)
	case "password":
		return a.password(ctx, args)
	case "request":
		return a.request(ctx, args)
	case "watch":
		return a.watch(ctx)
	}
	return errUsage
}
