package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/internal/httpapi"
	"github.com/dkotama/firefly-telegram-assistant/pkg/config"
)

// runToken mints a bearer token for the HTTP API. The user id becomes the
// conversation owner, so use the same id the user has on Telegram to share
// sessions across both transports.
func runToken(configPath string, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: assistant token [-ttl 720h] <user-id>")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.HTTP.JWTSecret == "" {
		return errors.New("HTTP_JWT_SECRET is required")
	}

	token, err := httpapi.IssueToken(cfg.HTTP.JWTSecret, fs.Arg(0), *ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(os.Stdout, token)
	return nil
}
