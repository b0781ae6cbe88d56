package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"mirrorctl/internal/model"
	"mirrorctl/internal/util"

	"github.com/spf13/cobra"
)

var (
	listStatus string
	listFilter string

	infoNoStatus bool

	jobSpec     model.JobSpec
	jobOptions  string
	jobEnv      map[string]string
	logLines    int
	logOutput   string
	refreshSize bool
	refreshRetr bool
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage mirror jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if listStatus != "" {
			q.Set("status", listStatus)
		}
		if listFilter != "" {
			q.Set("filter", listFilter)
		}

		path := "/job"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var jobs []model.JobStatus
		if err := fetch(path, &jobs); err != nil {
			return err
		}

		if len(jobs) == 0 {
			fmt.Println("no jobs")
			return nil
		}

		fmt.Printf("%-24s %-10s %-10s %s\n", "NAME", "STATUS", "SIZE", "PODS")
		for _, j := range jobs {
			ready := 0
			for _, p := range j.Pods {
				if p.Ready {
					ready++
				}
			}
			fmt.Printf("%-24s %-10s %-10s %d/%d\n", j.Name, j.Status, j.Size, ready, len(j.Pods))
		}

		return nil
	},
}

var jobInfoCmd = &cobra.Command{
	Use:   "info [name]",
	Short: "Show the spec and live status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/job/" + url.PathEscape(args[0])
		if infoNoStatus {
			path += "?status=false"
		}

		var info model.JobInfo
		if err := fetch(path, &info); err != nil {
			return err
		}

		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var jobAddCmd = &cobra.Command{
	Use:   "add [name] [upstream]",
	Short: "Add a new job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := specFromFlags()
		spec.Name, spec.Upstream = args[0], args[1]

		body, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		return reply(http.MethodPost, "/job", bytes.NewReader(body))
	},
}

var jobEditCmd = &cobra.Command{
	Use:   "edit [name]",
	Short: "Change fields of an existing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(specFromFlags())
		if err != nil {
			return err
		}
		return reply(http.MethodPatch, "/job/"+url.PathEscape(args[0]), bytes.NewReader(body))
	},
}

var jobRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a job, keeping its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reply(http.MethodDelete, "/job/"+url.PathEscape(args[0]), nil)
	},
}

var jobCommandCmd = &cobra.Command{
	Use:       "cmd [name] [start|stop|restart|reload|enable|disable|refresh]",
	Short:     "Send a control command to a job",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"start", "stop", "restart", "reload", "enable", "disable", "refresh"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return reply(http.MethodPost, "/job/"+url.PathEscape(args[0])+"/"+args[1], nil)
	},
}

var jobRestartCmd = &cobra.Command{
	Use:   "restart [name]",
	Short: "Recreate the pods of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reply(http.MethodDelete, "/job/"+url.PathEscape(args[0])+"/pod", nil)
	},
}

var jobLogCmd = &cobra.Command{
	Use:   "log [name]",
	Short: "Print the latest log of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/job/" + url.PathEscape(args[0]) + "/log"
		if logLines > 0 {
			path += fmt.Sprintf("?line=%d", logLines)
		}

		code, data, err := call(http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("%s", strings.TrimSpace(string(data)))
		}

		if logOutput != "" {
			if err := util.AtomicWrite(logOutput, bytes.NewReader(data)); err != nil {
				return err
			}
			fmt.Printf("log of %s saved to %s\n", args[0], logOutput)
			return nil
		}

		fmt.Print(string(data))
		return nil
	},
}

var jobRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute sizes and retry failed jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/job/refresh?update=%t&retry=%t", refreshSize, refreshRetr)
		return reply(http.MethodPost, path, nil)
	},
}

func specFromFlags() model.JobSpec {
	spec := jobSpec
	if jobOptions != "" {
		spec.RsyncOptions = strings.Fields(jobOptions)
	}
	if len(jobEnv) > 0 {
		spec.AdditionOptions = jobEnv
	}
	return spec
}

func init() {
	jobListCmd.Flags().StringVar(&listStatus, "status", "", "all, disabled, syncing, success or failed")
	jobListCmd.Flags().StringVar(&listFilter, "filter", "", "only jobs whose name contains this")

	jobInfoCmd.Flags().BoolVar(&infoNoStatus, "no-status", false, "skip the live status")

	for _, c := range []*cobra.Command{jobAddCmd, jobEditCmd} {
		f := c.Flags()
		f.StringVar((*string)(&jobSpec.Provider), "provider", "", "rsync, command or two-stage-rsync")
		f.StringVar(&jobSpec.Command, "command", "", "command run by the command provider")
		f.IntVar(&jobSpec.Concurrent, "concurrent", 0, "concurrent syncs")
		f.IntVar(&jobSpec.Interval, "interval", 0, "minutes between syncs")
		f.StringVar(&jobOptions, "rsync-options", "", "extra rsync options")
		f.StringVar(&jobSpec.MemoryLimit, "memory-limit", "", "worker memory limit")
		f.StringVar(&jobSpec.SizePattern, "size-pattern", "", "regexp locating the size in the log")
		f.StringToStringVar(&jobEnv, "env", nil, "extra worker environment")
		f.StringVar(&jobSpec.Image, "image", "", "worker image")
		f.StringVar(&jobSpec.DataSize, "data-size", "", "size of the data claim")
		f.StringVar(&jobSpec.Node, "node", "", "pin the worker to a node")
	}
	jobEditCmd.Flags().StringVar(&jobSpec.Upstream, "upstream", "", "new upstream")

	jobLogCmd.Flags().IntVarP(&logLines, "lines", "n", 0, "only the last n lines")
	jobLogCmd.Flags().StringVarP(&logOutput, "output", "o", "", "save the log to this file")

	jobRefreshCmd.Flags().BoolVar(&refreshSize, "update", false, "recompute and push sizes")
	jobRefreshCmd.Flags().BoolVar(&refreshRetr, "retry", false, "start failed jobs again")

	jobCmd.AddCommand(jobListCmd, jobInfoCmd, jobAddCmd, jobEditCmd, jobRemoveCmd,
		jobCommandCmd, jobRestartCmd, jobLogCmd, jobRefreshCmd)
	rootCmd.AddCommand(jobCmd)
}
