package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"mirrorctl/internal/model"

	"github.com/spf13/cobra"
)

var (
	historyN      int
	historyJob    string
	historyFailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("n", strconv.Itoa(historyN))
		if historyJob != "" {
			q.Set("job", historyJob)
		}
		if historyFailed {
			q.Set("failed", "true")
		}

		code, data, err := call(http.MethodGet, "/history?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("history unavailable: %s", string(data))
		}

		var ops []model.Operation
		if err := json.Unmarshal(data, &ops); err != nil {
			return fmt.Errorf("failed to decode history: %w", err)
		}

		if len(ops) == 0 {
			fmt.Println("no history yet")
			return nil
		}

		for _, op := range ops {
			status := "✓"
			if !op.Success {
				status = "✗"
			}

			fmt.Printf("%s [%s] %-8s %-20s %s\n",
				status,
				op.At.Format("2006-01-02 15:04:05"),
				op.Action,
				op.Job,
				op.Message,
			)
		}

		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyN, "n", 20, "number of operations to show")
	historyCmd.Flags().StringVar(&historyJob, "job", "", "only operations on this job")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "only failed operations")
	rootCmd.AddCommand(historyCmd)
}
