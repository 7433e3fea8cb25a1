package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qchong005/nbaidx/internal/stats"
	"github.com/qchong005/nbaidx/pkg/loader"
)

var checkpointInterval time.Duration

var loadCmd = &cobra.Command{
	Use:   "load <data-file> [db-file]",
	Short: "Load a delimited text file into the heap and build the index",
	Long: `Parses a tab- or comma-delimited data file, appends each row to the
heap file as a fixed-size Record, then bulk-loads a B+-tree index keyed
on ft_pct, reporting record/block counts and build timing. db-file may
be omitted if a config file (see --config) supplies DataDir/DBFile.
A background checkpoint goroutine persists the index image every
--checkpoint-interval while the engine is open. It takes the engine
lock, so no image is written while the bulk load itself is running.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataFile := args[0]
		var dbFile string
		if len(args) == 2 {
			dbFile = args[1]
		}

		records, parseStats, err := loader.ParseFile(dataFile)
		if err != nil {
			logCommandError(err)
			return err
		}

		e, err := openEngineAt(dbFile, btreeOrder)
		if err != nil {
			logCommandError(err)
			return err
		}
		defer e.Close()

		if checkpointInterval > 0 {
			e.StartCheckpoint(checkpointInterval)
			defer e.StopCheckpoint()
		}

		loadStats, err := e.Load(records)
		if err != nil {
			logCommandError(err)
			return err
		}

		fmt.Println(stats.FormatLoad(loadStats, parseStats.RowsSkipped))
		return nil
	},
}

func init() {
	loadCmd.Flags().DurationVar(&checkpointInterval, "checkpoint-interval", 2*time.Second,
		"how often to persist the index image while loading; 0 disables checkpointing")
	rootCmd.AddCommand(loadCmd)
}
