package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stillfox-lee/multica-sub001/internal/conductor"
	"github.com/stillfox-lee/multica-sub001/internal/config"
	"github.com/stillfox-lee/multica-sub001/internal/logging"
	"github.com/stillfox-lee/multica-sub001/internal/session"
	"github.com/stillfox-lee/multica-sub001/internal/web"
)

var (
	serveHost  string
	servePort  int
	serveAgent string
)

// serveCmd starts the web bridge.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web bridge for ACP agents",
	Long: `Start a web server that bridges browser clients to ACP agents.

Sessions survive restarts: their transcripts and pending answers are
stored on disk and can be resumed through the API.

Example:
  multica serve                  # Listen on the configured address
  multica serve --port 3000      # Override the port`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveAgent, "agent", "", "Default agent for new sessions (defaults to first in config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveHost != "" {
		cfg.Web.Host = serveHost
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("no agents configured; add at least one agent to the config file")
	}
	// The first configured agent is the default for new sessions, so
	// --agent moves the chosen one to the front.
	agent, err := selectedAgent(serveAgent)
	if err != nil {
		return err
	}
	if cfg.Agents[0].Name != agent.Name {
		reordered := []config.Agent{*agent}
		for _, a := range cfg.Agents {
			if a.Name != agent.Name {
				reordered = append(reordered, a)
			}
		}
		cfg.Agents = reordered
	}

	store, err := session.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	hub := web.NewHub(logging.Web())
	cond := conductor.New(store, hub)
	defer cond.Close()

	srv := web.NewServer(cfg, cond, store, hub)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx)
}
