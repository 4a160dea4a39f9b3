// Package wumpus parses game server flags and starts the server.
package wumpus

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/trace-the-wumpus/internal/platform/cmd"
	"github.com/louisbranch/trace-the-wumpus/internal/platform/timeouts"
	server "github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/app"
)

// Config holds game server configuration.
type Config struct {
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr       string        `env:"GRPC_ADDR" envDefault:":8081"`
	ICMPEnabled    bool          `env:"ICMP_ENABLED" envDefault:"false"`
	ICMP4Addr      string        `env:"ICMP4_ADDR" envDefault:"0.0.0.0"`
	ICMP6Addr      string        `env:"ICMP6_ADDR" envDefault:"::"`
	ScoreBackend   string        `env:"SCORE_BACKEND" envDefault:"textfile"`
	ScorePath      string        `env:"SCORE_PATH" envDefault:"data/score.csv"`
	SessionTimeout time.Duration `env:"SESSION_TIMEOUT" envDefault:"300s"`
	MaxScores      int           `env:"MAX_SCORES" envDefault:"10"`
	Debug          bool          `env:"DEBUG" envDefault:"false"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The websocket listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The gRPC health listen address")
	fs.BoolVar(&cfg.ICMPEnabled, "icmp", cfg.ICMPEnabled, "Answer ping and traceroute on raw sockets (needs CAP_NET_RAW)")
	fs.StringVar(&cfg.ICMP4Addr, "icmp4-addr", cfg.ICMP4Addr, "The IPv4 raw socket address, empty to disable")
	fs.StringVar(&cfg.ICMP6Addr, "icmp6-addr", cfg.ICMP6Addr, "The IPv6 raw socket address, empty to disable")
	fs.StringVar(&cfg.ScoreBackend, "score-backend", cfg.ScoreBackend, "The score store: textfile or sqlite")
	fs.StringVar(&cfg.ScorePath, "score-path", cfg.ScorePath, "The score store path")
	fs.DurationVar(&cfg.SessionTimeout, "session-timeout", cfg.SessionTimeout, "Idle time before a session expires")
	fs.IntVar(&cfg.MaxScores, "max-scores", cfg.MaxScores, "Rows shown on the score screen")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Log every decoded command")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the game server.
func Run(ctx context.Context, cfg Config) error {
	options := entrypoint.RunOptions{ShutdownTimeout: timeouts.Shutdown}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceWumpus, options, func(ctx context.Context) error {
		return server.Run(ctx, server.Config{
			HTTPAddr:       cfg.HTTPAddr,
			GRPCAddr:       cfg.GRPCAddr,
			ICMPEnabled:    cfg.ICMPEnabled,
			ICMP4Addr:      cfg.ICMP4Addr,
			ICMP6Addr:      cfg.ICMP6Addr,
			ScoreBackend:   cfg.ScoreBackend,
			ScorePath:      cfg.ScorePath,
			SessionTimeout: cfg.SessionTimeout,
			MaxScores:      cfg.MaxScores,
			Debug:          cfg.Debug,
		})
	})
}
