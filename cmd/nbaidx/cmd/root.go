// Package cmd implements the nbaidx command-line driver: load, find,
// range, and delete subcommands over the indexed storage engine.
//
// Grounded on ssargent/freyjadb's cmd/freyja/cmd.rootCmd: a persistent
// flag set, an Execute function that calls os.Exit(1) on failure, and
// per-command engine.Open/Close pairs rather than a shared context
// value, matching the variant already present in the teacher's own
// get.go/delete.go (each opens its own store rather than relying on
// rootCmd's PersistentPreRunE-populated context).
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/qchong005/nbaidx/pkg/bptree"
	"github.com/qchong005/nbaidx/pkg/config"
	"github.com/qchong005/nbaidx/pkg/engine"
)

var (
	btreeOrder int
	configPath string
	cfg        = config.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "nbaidx",
	Short: "A single-attribute indexed storage engine for NBA game records",
	Long: `nbaidx stores fixed-schema NBA game records in a block-packed
heap file and maintains an in-place B+-tree index keyed on ft_pct,
supporting bulk load, point and range search, and range delete.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := zerolog.ParseLevel(os.Getenv("NBAIDX_LOG_LEVEL"))
		if err != nil {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)

		loadConfig(cmd)
	},
}

// Execute adds all child commands to the root command and runs it. It
// only needs to happen once, from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nbaidx: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVar(&btreeOrder, "order", bptree.DefaultOrder, "B+-tree order (max keys per node)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default: "+config.GetDefaultConfigPath()+")")
}

// loadConfig resolves configPath (or the platform default) into cfg,
// then lets its BTreeOrder stand in for --order when the caller didn't
// set that flag explicitly, per SPEC_FULL.md section 6.4. cfg's
// DataDir/DBFile are applied later, by openEngineAt.
func loadConfig(cmd *cobra.Command) {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if config.ConfigExists(path) {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("cmd: ignoring unreadable config file")
		} else {
			cfg = loaded
		}
	}

	if !cmd.Flags().Changed("order") {
		btreeOrder = cfg.BTreeOrder
	}
}

// openEngineAt opens the engine rooted at dbFile, splitting it into the
// data directory and file name the engine.Config expects. An empty
// dbFile falls back to cfg.DataDir/cfg.DBFile, so commands can omit the
// positional argument entirely once a config file supplies it.
func openEngineAt(dbFile string, order int) (*engine.Engine, error) {
	if dbFile == "" {
		dbFile = filepath.Join(cfg.DataDir, cfg.DBFile)
	}

	dir := filepath.Dir(dbFile)
	base := filepath.Base(dbFile)
	e, err := engine.Open(engine.Config{DataDir: dir, DBFile: base, BTreeOrder: order})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbFile, err)
	}
	return e, nil
}

// logCommandError records the failure at debug level for diagnostics;
// the user-facing message is printed once, by Execute, to avoid
// duplicating it here.
func logCommandError(err error) {
	log.Debug().Err(err).Msg("command failed")
}
