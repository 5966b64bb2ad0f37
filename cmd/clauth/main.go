package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	cfg := NewConfig()

	if err := cfg.LoadDotEnv(os.Getwd); err != nil {
		fmt.Fprintln(os.Stderr, "can't read .env file:", err)
		os.Exit(1)
	}
	cfg.LoadEnv(os.Getenv)

	args, err := cfg.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	app, err := NewApp(cfg, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "can't initialize app, sorry:", err)
		os.Exit(1)
	}

	// Cancel in-flight requests on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
