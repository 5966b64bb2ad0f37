package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/okazan/clauth/internal/api"
	"github.com/okazan/clauth/internal/apperrors"
	"github.com/okazan/clauth/internal/logger"
	"github.com/okazan/clauth/internal/secretstore"
	"github.com/okazan/clauth/internal/session"
)

const usage = `Usage: clauth [flags] <command>

Commands:
  register <email> <password> <name>  create an account and sign in
  login <email> <password>            sign in
  whoami                              show the signed-in user
  status                              show the local session state
  logout                              discard the local session, notify the server
  health                              check the API
`

type App struct {
	client *api.Client
	logger logger.Logger
	out    io.Writer
}

func NewApp(c *Config, out io.Writer) (*App, error) {
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	storePath, err := c.ResolveStorePath()
	if err != nil {
		return nil, fmt.Errorf("error while resolving store path: %w", err)
	}

	secrets, err := secretstore.NewFile(storePath, c.StoreKey)
	if err != nil {
		return nil, fmt.Errorf("error while opening secret store: %w", err)
	}

	client, err := api.NewClient(api.Config{
		BaseURL: c.BaseURL,
		Logger:  log,
	}, session.NewStore(), secrets)
	if err != nil {
		return nil, fmt.Errorf("error while creating api client: %w", err)
	}

	return &App{
		client: client,
		logger: log,
		out:    out,
	}, nil
}

// Run executes a single command. The session is restored from the
// durable refresh token before commands that need one.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return errors.New("no command given")
	}

	command, operands := args[0], args[1:]

	switch command {
	case "register":
		return a.register(ctx, operands)
	case "login":
		return a.login(ctx, operands)
	case "whoami":
		return a.whoami(ctx)
	case "status":
		return a.status(ctx)
	case "logout":
		a.client.Logout(ctx)
		fmt.Fprintln(a.out, "Signed out.")
		return nil
	case "health":
		if err := a.client.Health(ctx); err != nil {
			return fmt.Errorf("API is not healthy: %w", err)
		}
		fmt.Fprintln(a.out, "API is healthy.")
		return nil
	default:
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *App) register(ctx context.Context, operands []string) error {
	if len(operands) != 3 {
		return errors.New("usage: clauth register <email> <password> <name>")
	}

	user, err := a.client.Register(ctx, operands[0], operands[1], operands[2])
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Welcome, %s! Signed in as %s.\n", user.Name, user.Email)
	return nil
}

func (a *App) login(ctx context.Context, operands []string) error {
	if len(operands) != 2 {
		return errors.New("usage: clauth login <email> <password>")
	}

	user, err := a.client.Login(ctx, operands[0], operands[1])
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Signed in as %s.\n", user.Email)
	return nil
}

func (a *App) whoami(ctx context.Context) error {
	a.client.Bootstrap(ctx)

	if !a.client.Session().Snapshot().SignedIn() {
		return apperrors.ErrNotAuthenticated
	}

	user, err := a.client.Me(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s <%s>\n", user.Name, user.Email)
	if !user.CreatedAt.IsZero() {
		fmt.Fprintf(a.out, "member since %s\n", user.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

func (a *App) status(ctx context.Context) error {
	a.client.Bootstrap(ctx)

	snap := a.client.Session().Snapshot()
	if !snap.SignedIn() {
		fmt.Fprintln(a.out, "Signed out.")
		return nil
	}

	fmt.Fprintf(a.out, "Signed in as %s.\n", snap.User.Email)
	if expiry, ok := accessTokenExpiry(snap.AccessToken); ok {
		fmt.Fprintf(a.out, "Access token valid for %s.\n", time.Until(expiry).Round(time.Second))
	}
	return nil
}

// accessTokenExpiry reads the expiry claim without verifying the
// signature; the token is the server's to verify, we only display it
func accessTokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
