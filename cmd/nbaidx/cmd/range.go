package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/qchong005/nbaidx/internal/stats"
)

var rangeCmd = &cobra.Command{
	Use:   "range [db-file] <threshold>",
	Short: "Range search: every record with ft_pct > threshold",
	Long: `Runs range_gt(threshold). db-file may be omitted if a config
file (see --config) supplies DataDir/DBFile.`,
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

		_, s, err := e.RangeGT(float32(threshold))
		if err != nil {
			logCommandError(err)
			return err
		}

		fmt.Println(stats.FormatRange(threshold, s))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rangeCmd)
}
