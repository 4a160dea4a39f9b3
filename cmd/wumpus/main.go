package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	wumpuscmd "github.com/louisbranch/trace-the-wumpus/internal/cmd/wumpus"
)

func main() {
	cfg, err := wumpuscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[WUMPUS] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := wumpuscmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
