package main

import (
	"flag"
	"os"

	"github.com/louisbranch/trace-the-wumpus/internal/platform/config"
	"github.com/louisbranch/trace-the-wumpus/internal/tools/wumpusaddr"
)

func main() {
	cfg, err := wumpusaddr.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := wumpusaddr.Run(cfg, os.Stdout); err != nil {
		config.Exitf("Error: %v", err)
	}
}
