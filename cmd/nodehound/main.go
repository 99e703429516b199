package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/nodehound/nodehound/internal/config"
	"github.com/nodehound/nodehound/internal/log"

	"github.com/spf13/cobra"
)

var (
	configPath string // actual config file used (if loaded)
	cfg        config.Config

	flagConfigFilePath string
	flagVerbose        bool
	flagTargets        []string
	flagActive         bool
	flagPod            bool
	flagToken          string
	flagTimeout        time.Duration
	flagReport         string
	flagDB             string
	flagSchedule       string
	flagNmap           bool
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "config file to load (yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().StringSliceVar(&flagTargets, "target", nil, "node address to probe, repeatable")
	runCmd.Flags().BoolVar(&flagActive, "active", false, "enable proof-of-exploit hunters")
	runCmd.Flags().BoolVar(&flagPod, "pod", false, "self-test mode, probe the pod this scanner runs in")
	runCmd.Flags().StringVar(&flagToken, "token", "", "bearer token for the secure kubelet port")
	runCmd.Flags().DurationVar(&flagTimeout, "timeout", 5*time.Second, "network timeout per request")
	runCmd.Flags().StringVar(&flagReport, "report", "", "report output file, empty means stdout")
	runCmd.Flags().StringVar(&flagDB, "db", "", "sqlite file persisting runs and findings")
	runCmd.Flags().StringVar(&flagSchedule, "schedule", "", "cron expression for repeated scans")
	runCmd.Flags().BoolVar(&flagNmap, "nmap", false, "discover ports with nmap instead of direct dials")

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRunE = initNodehound

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("nodehound failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "nodehound",
	Short:        "Hunts exposed kubelet APIs and reports them as CycloneDX",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run probes the configured targets and writes the report",
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of nodehound",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("nodehound: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:    %s\n", configPath)
		}
		fmt.Printf("nodehound: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:     %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initNodehound(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("NODEHOUNDCONFIG"); ok {
		configPath = envConfig
	} else {
		configPath = flagConfigFilePath
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	// flags have precedence over the config file
	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.Targets = flagTargets
	}
	if flags.Changed("active") {
		cfg.Active = flagActive
	}
	if flags.Changed("pod") {
		cfg.Pod = flagPod
	}
	if flags.Changed("token") {
		cfg.Token = flagToken
	}
	if flags.Changed("timeout") {
		cfg.NetworkTimeout = flagTimeout
	}
	if flags.Changed("report") {
		cfg.Report = flagReport
	}
	if flags.Changed("db") {
		cfg.DB = flagDB
	}
	if flags.Changed("schedule") {
		cfg.Schedule = flagSchedule
	}
	if flags.Changed("nmap") {
		cfg.Nmap = flagNmap
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(log.New(flagVerbose))
	slog.Debug("nodehound run", "configPath", configPath)
	return nil
}
