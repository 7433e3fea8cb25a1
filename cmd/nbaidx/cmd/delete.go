package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/qchong005/nbaidx/internal/stats"
)

var bruteCheck bool

var deleteCmd = &cobra.Command{
	Use:   "delete [db-file] <threshold>",
	Short: "Range delete: remove every record with ft_pct > threshold",
	Long: `Runs the four-step delete_range_gt protocol: locate victims via
the index, remove them from the index, compact the heap, and rebuild
the index from the compacted heap. With --brute, also runs a linear
scan of the pre-delete heap and compares the match count against the
index path as a correctness cross-check (Task 3). db-file may be
omitted if a config file (see --config) supplies DataDir/DBFile.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var dbFile, thresholdArg string
		if len(args) == 2 {
			dbFile, thresholdArg = args[0], args[1]
		} else {
			thresholdArg = args[0]
		}

		threshold, err := strconv.ParseFloat(thresholdArg, 32)
		if err != nil {
			err = fmt.Errorf("invalid threshold %q: %w", thresholdArg, err)
			logCommandError(err)
			return err
		}

		e, err := openEngineAt(dbFile, btreeOrder)
		if err != nil {
			logCommandError(err)
			return err
		}
		defer e.Close()

		var bruteMatches, bruteBlocks int
		if bruteCheck {
			bruteMatches, bruteBlocks, err = e.BruteCountGT(float32(threshold))
			if err != nil {
				logCommandError(err)
				return err
			}
		}

		s, err := e.DeleteRangeGT(float32(threshold))
		if err != nil {
			logCommandError(err)
			return err
		}

		fmt.Println(stats.FormatDelete(threshold, s))
		if bruteCheck {
			fmt.Println(stats.FormatBruteCheck(bruteMatches, bruteBlocks, s.RecordsTouched))
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&bruteCheck, "brute", false, "cross-check against a brute-force linear scan")
	rootCmd.AddCommand(deleteCmd)
}
