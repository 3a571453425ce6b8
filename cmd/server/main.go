package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"breach-and-hold/server/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
