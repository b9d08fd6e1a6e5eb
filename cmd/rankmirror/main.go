package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/allcookiesaccept/rankmirror"
	"github.com/allcookiesaccept/rankmirror/internal/config"
	"github.com/allcookiesaccept/rankmirror/internal/logging"
	"github.com/allcookiesaccept/rankmirror/internal/output"
)

var (
	configPath   string
	cfg          *config.Config
	logger       *zap.Logger
	closeLog     = func() {}
	outputFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rankmirror",
		Short: "Mirror Topvisor ranking summaries into SQLite and Google Sheets",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "output format: json, text, human (default: json)")

	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(initConfigCmd())

	err := rootCmd.Execute()
	closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	if configPath == "" {
		configPath = config.DefaultPath
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	l, cleanup, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger, closeLog = l, cleanup
	return nil
}

// engineConfig maps the loaded settings onto the engine. reg may be nil.
func engineConfig(c *config.Config, log *zap.Logger, reg prometheus.Registerer, readOnly bool) rankmirror.EngineConfig {
	return rankmirror.EngineConfig{
		DBPath:            c.Database.Path,
		TopvisorBaseURL:   c.Topvisor.BaseURL,
		UserID:            c.Topvisor.UserID,
		APIKey:            c.Topvisor.APIKey,
		RequestsPerSecond: c.Topvisor.RequestsPerSecond,
		RequestTimeout:    c.Topvisor.Timeout,
		SpreadsheetID:     c.Sheets.SpreadsheetID,
		CredentialsFile:   c.Sheets.CredentialsFile,
		SheetName:         c.Sheets.SheetName,
		RangeStart:        c.Sheets.RangeStart,
		Projects:          c.Projects,
		Logger:            log,
		Registerer:        reg,
		ReadOnly:          readOnly,
	}
}

func openEngine(readOnly bool, reg prometheus.Registerer) (*rankmirror.Engine, error) {
	engine, err := rankmirror.NewEngine(engineConfig(cfg, logger, reg, readOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func syncCmd() *cobra.Command {
	var daysBack int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch recent ranking snapshots and republish the spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("days-back") {
				daysBack = cfg.Sync.DaysBack
			}
			if err := cfg.Validate(true); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			formatter := output.NewFormatter(output.Format(outputFormat))
			engine, err := openEngine(false, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := engine.Sync(cmd.Context(), daysBack)
			if result != nil {
				if outErr := formatter.OutputSyncResult(result); outErr != nil {
					formatter.Warning("failed to print result: %v", outErr)
				}
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&daysBack, "days-back", "d", 3, "look back this many days for position checks (default: sync.days_back)")
	return cmd
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Rewrite the spreadsheet from the local store without fetching",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidatePublish(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			formatter := output.NewFormatter(output.Format(outputFormat))
			engine, err := openEngine(false, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			rows, err := engine.Publish(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to publish: %w", err)
			}
			return formatter.OutputPublishResult(rows)
		},
	}
}

func listCmd() *cobra.Command {
	var filter rankmirror.SnapshotFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored ranking snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(output.Format(outputFormat))
			engine, err := openEngine(true, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			snaps, err := engine.Snapshots(filter)
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}
			return formatter.OutputSnapshots(snaps)
		},
	}
	cmd.Flags().Int64VarP(&filter.ProjectID, "project", "p", 0, "only this project id")
	cmd.Flags().Int64VarP(&filter.RegionIndex, "region", "r", 0, "only this region index")
	cmd.Flags().StringVar(&filter.From, "from", "", "earliest date, YYYY-MM-DD")
	cmd.Flags().StringVar(&filter.To, "to", "", "latest date, YYYY-MM-DD")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "maximum number of snapshots to show (0 for all)")
	return cmd
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(output.Format(outputFormat))
			engine, err := openEngine(true, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			runs, err := engine.Runs(limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			return formatter.OutputRuns(runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show")
	return cmd
}

func projectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List Topvisor projects and their region indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Topvisor.APIKey == "" || cfg.Topvisor.UserID == "" {
				return fmt.Errorf("topvisor credentials are required (%s, %s)", config.EnvAPIKey, config.EnvUserID)
			}

			formatter := output.NewFormatter(output.Format(outputFormat))
			c := *cfg
			c.Sheets.SpreadsheetID = ""
			engine, err := rankmirror.NewEngine(engineConfig(&c, logger, nil, false))
			if err != nil {
				return fmt.Errorf("failed to open engine: %w", err)
			}
			defer engine.Close()

			projects, err := engine.Projects(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list projects: %w", err)
			}
			return formatter.OutputProjects(projects)
		},
	}
}

// addKeyFlags binds the flags that select snapshots for update and delete.
func addKeyFlags(cmd *cobra.Command, key *rankmirror.SnapshotKey) {
	cmd.Flags().StringVar(&key.Date, "date", "", "snapshot date, YYYY-MM-DD")
	cmd.Flags().Int64VarP(&key.ProjectID, "project", "p", 0, "project id")
	cmd.Flags().Int64VarP(&key.RegionIndex, "region", "r", 0, "region index")
}

func deleteCmd() *cobra.Command {
	var key rankmirror.SnapshotKey
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete stored snapshots matching --date, --project and --region",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(output.Format(outputFormat))
			engine, err := openEngine(true, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			n, err := engine.DeleteSnapshots(key)
			if err != nil {
				return fmt.Errorf("failed to delete snapshots: %w", err)
			}
			return formatter.OutputAffected("deleted", n)
		},
	}
	addKeyFlags(cmd, &key)
	return cmd
}

func updateCmd() *cobra.Command {
	var key rankmirror.SnapshotKey
	var (
		all, top3, top10, top30, top50, top100, folder int64
		avg, visibility                                 float64
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Overwrite metric values on stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := rankmirror.SnapshotPatch{}
			flags := cmd.Flags()
			setInt := func(name string, v int64, dst **int64) {
				if flags.Changed(name) {
					*dst = &v
				}
			}
			setInt("all", all, &patch.AllPositions)
			setInt("top-1-3", top3, &patch.Top1To3)
			setInt("top-1-10", top10, &patch.Top1To10)
			setInt("top-11-30", top30, &patch.Top11To30)
			setInt("top-31-50", top50, &patch.Top31To50)
			setInt("top-51-100", top100, &patch.Top51To100)
			setInt("folder-id", folder, &patch.FolderID)
			if flags.Changed("avg") {
				patch.AvgPosition = &avg
			}
			if flags.Changed("visibility") {
				patch.Visibility = &visibility
			}

			formatter := output.NewFormatter(output.Format(outputFormat))
			engine, err := openEngine(true, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			n, err := engine.UpdateSnapshots(key, patch)
			if err != nil {
				return fmt.Errorf("failed to update snapshots: %w", err)
			}
			return formatter.OutputAffected("updated", n)
		},
	}
	addKeyFlags(cmd, &key)
	cmd.Flags().Int64Var(&all, "all", 0, "all positions")
	cmd.Flags().Int64Var(&top3, "top-1-3", 0, "positions 1-3")
	cmd.Flags().Int64Var(&top10, "top-1-10", 0, "positions 1-10")
	cmd.Flags().Int64Var(&top30, "top-11-30", 0, "positions 11-30")
	cmd.Flags().Int64Var(&top50, "top-31-50", 0, "positions 31-50")
	cmd.Flags().Int64Var(&top100, "top-51-100", 0, "positions 51-100")
	cmd.Flags().Int64Var(&folder, "folder-id", 0, "folder id")
	cmd.Flags().Float64Var(&avg, "avg", 0, "average position")
	cmd.Flags().Float64Var(&visibility, "visibility", 0, "visibility")
	return cmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Create a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.DefaultPath
			}

			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config file already exists: %s", configPath)
			}

			data, err := config.Marshal(configPath, config.DefaultConfig())
			if err != nil {
				return err
			}

			if err := os.WriteFile(configPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Printf("Created default config at %s\n", configPath)
			return nil
		},
	}
}
