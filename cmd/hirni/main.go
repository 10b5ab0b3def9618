package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/psychoinformatics-de/hirni/internal/config"
	"github.com/psychoinformatics-de/hirni/internal/dataset"
	"github.com/psychoinformatics-de/hirni/internal/debug"
	"github.com/psychoinformatics-de/hirni/internal/telemetry"
)

var (
	datasetPath string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	logger     *zap.Logger
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func init() {
	if err := config.Initialize(); err != nil {
		WarnError("failed to initialize config: %v", err)
	}

	rootCmd.PersistentFlags().StringVarP(&datasetPath, "dataset", "d", "", "Dataset to operate on (default: dataset containing the working directory)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

var rootCmd = &cobra.Command{
	Use:   "hirni",
	Short: "hirni - convert DICOM acquisitions to BIDS from study specifications",
	Long: `hirni turns the acquisitions of a dataset into a BIDS dataset.
Each acquisition carries a study specification describing which conversion
procedures to run and with which values.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("hirni version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		applyVerbosityFlags()
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool(config.KeyJSON)
		}

		var err error
		logger, err = newLogger(debug.Enabled(), debug.IsQuiet())
		if err != nil {
			FatalError("failed to initialize logger: %v", err)
		}
		if err := telemetry.Init(rootCtx, "hirni", Version); err != nil {
			WarnError("telemetry disabled: %v", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdown()
	},
}

// setupSignalContext creates a context that cancels on SIGINT/SIGTERM so that
// a running procedure is stopped with the command.
func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyVerbosityFlags propagates --verbose and --quiet to the debug package.
func applyVerbosityFlags() {
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
}

// newLogger builds the structured logger used for warnings from the
// dispatcher. Output goes to stderr so stdout stays parseable.
func newLogger(verbose, quiet bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch {
	case verbose:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case quiet:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = !verbose
	return cfg.Build()
}

// requireDataset finds the dataset and layers its configuration on top of
// the user configuration.
func requireDataset() *dataset.Dataset {
	ds, err := dataset.Require(datasetPath)
	if err != nil {
		FatalErrorWithHint(err.Error(), "Run inside a dataset or pass --dataset")
	}
	if err := config.LoadDataset(ds.Root()); err != nil {
		FatalError("%v", err)
	}
	debug.Logf("dataset: %s\n", ds)
	return ds
}

func shutdown() {
	if logger != nil {
		_ = logger.Sync()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	telemetry.Shutdown(ctx)
	if rootCancel != nil {
		rootCancel()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
