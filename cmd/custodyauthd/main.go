package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/goCustodyAuth/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx)
	if err != nil {
		log.Fatalf("custodyauthd: init: %v", err)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		log.Printf("custodyauthd: stopped: %v", err)
	}
}
