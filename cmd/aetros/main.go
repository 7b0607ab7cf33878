package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maxpumperla/aetros-cli/internal/config"
	"github.com/maxpumperla/aetros-cli/internal/log"
	"github.com/maxpumperla/aetros-cli/internal/model"
	"github.com/maxpumperla/aetros-cli/internal/run"
	"github.com/maxpumperla/aetros-cli/internal/store"
)

var (
	userStoragePath string // default storage root, ~/.aetros on most systems

	flagStoragePath string // value of --storage flag
	flagConfigPath  string // value of --config flag
	flagFetch       bool   // value of --fetch flag
	flagVerbose     bool   // value of --verbose flag

	// exitCode carries the supervised child's exit semantics out of
	// cobra, main hands it to os.Exit.
	exitCode int
)

func init() {
	d, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	userStoragePath = filepath.Join(d, ".aetros")
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	startCmd.Flags().StringVar(&flagStoragePath, "storage", "", "Job record storage root - default is "+userStoragePath)
	startCmd.Flags().StringVar(&flagConfigPath, "config", ".aetros.yml", "Project configuration file")
	startCmd.Flags().BoolVar(&flagFetch, "fetch", true, "fetch the job record from the remote before starting")

	// the supervisor already logged the failure
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRun = initLogging

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		// supervisor failures were already logged in doStart and carry
		// an exit code; anything else failed before the run started
		if exitCode == 0 {
			slog.Error("aetros failed", "err", err)
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:          "aetros",
	Short:        "Tool supervising model training jobs",
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start owner/project[/job-id]",
	Short: "start checks out the job record and executes the configured command",
	Args:  cobra.ExactArgs(1),
	RunE:  doStart,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of aetros",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("aetros: version info not available")
			return
		}

		fmt.Printf("aetros: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doStart(cmd *cobra.Command, args []string) error {
	owner, project, id, err := model.ParseFullID(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	attrs := slog.Group("aetros",
		slog.String("cmd", "start"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	projectCfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading project configuration: %w", err)
	}

	storage := flagStoragePath
	if storage == "" {
		storage = filepath.Join(userStoragePath, owner, project)
	}
	st, err := store.Open(storage)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.WarnContext(ctx, "closing store failed", "error", cerr)
		}
	}()

	job := model.NewJob(owner, project, id, config.Config{})
	job.WorkTree = st.WorkTree()

	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	supervisor := &run.Supervisor{
		Store:      st,
		Project:    projectCfg,
		Sink:       run.NewSink(os.Stdout),
		Interrupts: interrupts,
		Fetch:      flagFetch,
	}

	exitCode, err = supervisor.Run(ctx, job)
	if err != nil {
		slog.ErrorContext(ctx, "job did not complete", "error", err, "exit_code", exitCode)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return err
}

func initLogging(cmd *cobra.Command, _ []string) {
	slog.SetDefault(log.New(os.Stderr, flagVerbose))
}
