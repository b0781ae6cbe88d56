package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"mirrorctl/internal/model"

	"github.com/spf13/cobra"
)

var frontAddition string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View the manager, front proxy and nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		var nodes []string
		if err := fetch("/node", &nodes); err != nil {
			fmt.Printf("nodes: %v\n", err)
		} else {
			fmt.Printf("nodes: %s\n", strings.Join(nodes, ", "))
		}

		for _, target := range []string{"manager", "front"} {
			var pods []model.PodInfo
			if err := fetch("/"+target, &pods); err != nil {
				fmt.Printf("%s: %v\n", target, err)
				continue
			}

			fmt.Printf("%s:\n", target)
			for _, p := range pods {
				fmt.Printf("  %-40s %-10s %-16s %s %s\n",
					p.Name, p.Status, p.Node, p.Usage["cpu"], p.Usage["memory"])
			}
		}

		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Deploy the tunasync manager if it is missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reply(http.MethodGet, "/init", nil)
	},
}

var frontCmd = &cobra.Command{
	Use:   "front",
	Short: "Rebuild the front proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/front"
		if frontAddition != "" {
			path += "?addition=" + url.QueryEscape(frontAddition)
		}
		return reply(http.MethodPost, path, nil)
	},
}

var restartCmd = &cobra.Command{
	Use:       "restart [manager|front]",
	Short:     "Recreate the pods of the manager or the front proxy",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"manager", "front"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] != "manager" && args[0] != "front" {
			return fmt.Errorf("unknown target %q", args[0])
		}
		return reply(http.MethodDelete, "/"+args[0], nil)
	},
}

func init() {
	frontCmd.Flags().StringVar(&frontAddition, "addition", "", "also serve this job")
	rootCmd.AddCommand(statusCmd, initCmd, frontCmd, restartCmd)
}
