package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postflow/internal/app"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file (YAML or JSON)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postflow: %v\n", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postflow: %v\n", err)
		os.Exit(1)
	}

	<-ctx.Done()

	// Detach shutdown from the cancelled signal context but keep it bounded.
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "postflow: shutdown: %v\n", err)
		os.Exit(1)
	}
}
