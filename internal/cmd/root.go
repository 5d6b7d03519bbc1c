// Package cmd provides the CLI commands for multica.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stillfox-lee/multica-sub001/internal/config"
	"github.com/stillfox-lee/multica-sub001/internal/logging"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string
	dataDir       string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "multica",
	Short: "multica - a session bridge for ACP agents",
	Long: `multica runs AI coding agents that speak the Agent Client Protocol
(ACP) and bridges their sessions to a web interface.

It keeps durable session records on disk, correlates permission
requests with user answers, and works around agents that stall on
interactive question tools.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}

		// Priority: --log-level flag > --debug flag > config > default (info)
		effectiveLogLevel := cfg.Log.Level
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		effectiveLogFile := cfg.Log.File
		if logFile != "" {
			effectiveLogFile = logFile
		}
		var components []string
		if logComponents != "" {
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}
		logCfg := logging.Config{
			Level:      effectiveLogLevel,
			JSON:       cfg.Log.JSON,
			Components: components,
		}
		if effectiveLogFile != "" {
			logCfg.File = &logging.FileConfig{Path: effectiveLogFile}
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (defaults to the platform config directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to stderr)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g. 'web,session,acp'). Empty means all components.")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Session data directory (overrides config)")
}

// selectedAgent returns the agent to use based on the --agent flag and config.
func selectedAgent(name string) (*config.Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	if name != "" {
		agent := cfg.FindAgent(name)
		if agent == nil {
			return nil, fmt.Errorf("unknown agent %q", name)
		}
		return agent, nil
	}
	agent := cfg.DefaultAgent()
	if agent == nil {
		return nil, fmt.Errorf("no agents configured")
	}
	return agent, nil
}
