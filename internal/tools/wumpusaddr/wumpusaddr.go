// Package wumpusaddr prints the addresses players trace and decodes the ones
// the game answers with, including the PTR label each output line needs in
// the reverse zone.
package wumpusaddr

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/domain/addr"
)

// Config holds configuration for the address tool.
type Config struct {
	// Shoot is a comma separated arrow path to encode, such as "3,7,0,2".
	Shoot string
	// Addresses are decoded instead of printing the command sheet.
	Addresses []string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.Shoot, "shoot", "", "comma separated arrow path to encode")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Addresses = fs.Args()
	return cfg, nil
}

// Run writes the command sheet, an encoded shot, or the decoded addresses.
func Run(cfg Config, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}
	switch {
	case len(cfg.Addresses) > 0:
		return decode(cfg.Addresses, out)
	case strings.TrimSpace(cfg.Shoot) != "":
		return shoot(cfg.Shoot, out)
	default:
		return sheet(out)
	}
}

func sheet(out io.Writer) error {
	actions := []addr.GameAction{addr.Start, addr.Play, addr.Replay, addr.Help, addr.Map, addr.Score, addr.IPv4Fallback}
	for _, action := range actions {
		a, err := addr.EncodeGame(action)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "%-8s %s\n", action, a); err != nil {
			return err
		}
	}
	for room := 1; room <= 20; room++ {
		a, err := addr.EncodeMove(room)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "move %-3d %s\n", room, a); err != nil {
			return err
		}
	}
	return nil
}

func shoot(path string, out io.Writer) error {
	var targets []int
	for _, field := range strings.Split(path, ",") {
		target, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return fmt.Errorf("parse shot target %q: %w", field, err)
		}
		targets = append(targets, target)
	}
	a, err := addr.EncodeShoot(targets)
	if err != nil {
		return fmt.Errorf("encode shot: %w", err)
	}
	_, err = fmt.Fprintf(out, "shoot %s\n", a)
	return err
}

func decode(addresses []string, out io.Writer) error {
	for _, raw := range addresses {
		meaning := addr.Decode(raw).String()
		if a, err := netip.ParseAddr(raw); err == nil {
			if line, ok := addr.DecodeOutput(a); ok {
				reverse, err := addr.OutputReverse(line)
				if err != nil {
					return fmt.Errorf("reverse output %d: %w", line, err)
				}
				meaning = "output " + strconv.Itoa(line) + " ptr=" + reverse
			}
		}
		if _, err := fmt.Fprintf(out, "%s %s\n", raw, meaning); err != nil {
			return err
		}
	}
	return nil
}
