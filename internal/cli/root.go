// Package cli implements the scribe command, a NATS client for a running scribed.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var (
	configPath string
	server     string
	jsonOutput bool
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "scribe",
	Short:         "Control a running scribed daemon: record, browse history, export",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "daemon config file to read bus settings from")
	rootCmd.PersistentFlags().StringVarP(&server, "server", "s", "", "NATS server URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON replies")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
}

// Execute runs the root command and prints any error to stderr.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// client connects with the daemon's bus settings. An embedded daemon bus is
// reached at its configured port on localhost.
func client(ctx context.Context) (*bus.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	busCfg := cfg.Bus
	switch {
	case server != "":
		busCfg.Servers = []string{server}
	case busCfg.Embedded:
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return bus.Connect(ctx, "scribe-cli", busCfg, log)
}

// call sends one control request and converts a failed reply into an error.
func call(cmd *cobra.Command, subject string, req protocol.Request) (protocol.Reply, error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	c, err := client(ctx)
	if err != nil {
		return protocol.Reply{}, err
	}
	defer c.Close()

	var reply protocol.Reply
	if err := c.RequestJSON(ctx, subject, req, &reply); err != nil {
		return protocol.Reply{}, err
	}
	if !reply.OK {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitTags(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, t := range strings.Split(r, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}
