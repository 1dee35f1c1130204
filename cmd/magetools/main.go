package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"magetools/internal/config"
	"magetools/internal/grimorium"
	"magetools/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "magetools",
	Short: "magetools - semantic discovery and execution of spell collections",
	Long: `magetools discovers callable Go functions ("spells") under a root of
permission-scoped collections ("grimoriums"), indexes them for two-level
semantic search, and executes them on demand through an embedded interpreter.

A grimorium only loads when its directory carries an enabled manifest.json;
broken or unsafe files are quarantined, never executed.

Typical flow:
  magetools init ./grimoriums/math     # opt a directory in
  magetools scan                       # load + summarize + index
  magetools search "date arithmetic"   # find relevant grimoriums
  magetools spells math "add numbers"  # find spells inside one
  magetools exec math.Add --arg a=2 --arg b=3`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if wd, err := os.Getwd(); err == nil {
			if err := logging.Initialize(wd); err != nil {
				logger.Warn("file logging unavailable", zap.Error(err))
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadEngine builds the engine from the configured workspace.
func loadEngine() (*grimorium.Engine, *config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	eng, err := grimorium.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default .magetools/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(spellsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(guideCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
