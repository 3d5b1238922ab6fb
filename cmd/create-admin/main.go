// Command create-admin pre-registers the first administrator so that
// someone can sign in while self-registration is disabled.
//
//	create-admin <username> <email> [github|google|microsoft]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"identity-service/internal/app"
	"identity-service/internal/config"
	"identity-service/internal/logger"
	"identity-service/internal/user"
)

var errUsage = errors.New("usage: create-admin <username> <email> [github|google|microsoft]")

func main() {
	logger.Init()

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func parseArgs(args []string) (user.Registration, error) {
	if len(args) < 2 || len(args) > 3 {
		return user.Registration{}, errUsage
	}

	reg := user.Registration{
		Username:   args[0],
		Email:      args[1],
		Role:       user.RoleAdmin,
		AuthSource: user.AuthSourceGitHub,
	}
	if len(args) == 3 {
		reg.AuthSource = user.AuthSource(args[2])
	}
	if err := reg.Validate(); err != nil {
		return user.Registration{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	return reg, nil
}

func run(args []string) (err error) {
	reg, err := parseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.StoreBackend == config.BackendMemory {
		return errors.New("create-admin needs a persistent store backend")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	infra, err := app.NewInfra(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		err = errors.Join(err, infra.Close())
	}()

	dir, err := user.NewDirectory(infra.Users, user.Options{MaxSessions: cfg.MaxSessionsPerUser})
	if err != nil {
		return err
	}

	u, err := dir.CreatePreRegisteredUser(ctx, reg.Username, reg.Email, reg.Role, reg.AuthSource)
	if err != nil {
		return fmt.Errorf("create admin %q: %w", reg.Username, err)
	}

	logger.Info("admin created", map[string]any{
		"id":         u.ID,
		"username":   u.Username,
		"authSource": u.AuthSource,
	})
	fmt.Printf("created admin %s (%s); sign in with %s to link the account\n", u.Username, u.ID, u.AuthSource)
	return nil
}
