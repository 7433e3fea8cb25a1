package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/qchong005/nbaidx/internal/stats"
)

var findCmd = &cobra.Command{
	Use:   "find [db-file] <key>",
	Short: "Point lookup on ft_pct",
	Long: `Looks up every record whose ft_pct equals key. db-file may be
omitted if a config file (see --config) supplies DataDir/DBFile.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var dbFile, keyArg string
		if len(args) == 2 {
			dbFile, keyArg = args[0], args[1]
		} else {
			keyArg = args[0]
		}

		key, err := strconv.ParseFloat(keyArg, 32)
		if err != nil {
			err = fmt.Errorf("invalid key %q: %w", keyArg, err)
			logCommandError(err)
			return err
		}

		e, err := openEngineAt(dbFile, btreeOrder)
		if err != nil {
			logCommandError(err)
			return err
		}
		defer e.Close()

		records, s, err := e.Find(float32(key))
		if err != nil {
			logCommandError(err)
			return err
		}

		fmt.Println(stats.FormatFind(key, s))
		for _, r := range records {
			fmt.Printf("  team_id=%d pts=%d ast=%d reb=%d home_wins=%d\n",
				r.TeamID, r.Pts, r.Ast, r.Reb, r.HomeWins)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
}
