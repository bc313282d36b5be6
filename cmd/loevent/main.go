package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	runcmd "github.com/ArgLab/lo-event/internal/cmd/run"
	cfgpkg "github.com/ArgLab/lo-event/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "loevent",
		Short: "lo-event client CLI",
		Long:  "loevent forwards newline-delimited JSON events through the lo-event delivery pipeline.",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Read NDJSON events from stdin and deliver them",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			source, _ := cmd.Flags().GetString("source")
			appVersion, _ := cmd.Flags().GetString("app-version")
			server, _ := cmd.Flags().GetString("server")
			queueType, _ := cmd.Flags().GetString("queue")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			echo, _ := cmd.Flags().GetBool("echo")
			filter, _ := cmd.Flags().GetString("filter")
			verbose, _ := cmd.Flags().GetBool("verbose-events")
			noDisabler, _ := cmd.Flags().GetBool("no-disabler")
			locks, _ := cmd.Flags().GetStringArray("lock")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if server != "" {
				cfg.Server.Addr = server
			}
			if queueType != "" {
				cfg.QueueType = queueType
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if verbose {
				cfg.VerboseEvents = true
			}
			if noDisabler {
				cfg.UseDisabler = false
			}

			lockFields := map[string]interface{}{}
			for _, kv := range locks {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --lock %q; expected key=value", kv)
				}
				lockFields[k] = v
			}

			return runcmd.Run(context.Background(), runcmd.Options{
				Config:  cfg,
				Source:  source,
				Version: appVersion,
				Echo:    echo,
				Filter:  filter,
				Lock:    lockFields,
			})
		},
	}
	runCmd.Flags().String("config", os.Getenv("LOEVENT_CONFIG"), "Config file (JSON or YAML)")
	runCmd.Flags().String("source", "loevent", "Application source identifier")
	runCmd.Flags().String("app-version", "0.0", "Application version stamped onto events")
	runCmd.Flags().String("server", "", "Event collector endpoint, e.g. tcp://collector:7327")
	runCmd.Flags().String("queue", "", "Queue backend: auto|memory|persistent")
	runCmd.Flags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	runCmd.Flags().Bool("echo", false, "Mirror delivered events to stdout")
	runCmd.Flags().String("filter", "", "CEL expression gating delivery, e.g. event == 'click'")
	runCmd.Flags().Bool("verbose-events", false, "Stamp timing and session identity onto every event")
	runCmd.Flags().Bool("no-disabler", false, "Ignore server-issued opt-out directives")
	runCmd.Flags().StringArray("lock", nil, "Lock a field on all sinks before delivery (key=value, repeatable)")
	rootCmd.AddCommand(runCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("loevent", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
