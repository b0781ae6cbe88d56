package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"mirrorctl/internal/config"
	"mirrorctl/internal/db"
	"mirrorctl/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfg        *config.Config
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "mirrorctl",
	Short: "Run tunasync mirror workers on Kubernetes",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		logger.Init(debug)

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		// Only the daemon owns the history database.
		if cmd.Name() == "serve" {
			if err := db.Init(cfg.DBPath); err != nil {
				return err
			}
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func daemonURL(path string) string {
	return strings.TrimSuffix(cfg.Server, "/") + path
}

// call sends a request to the daemon and returns the raw body along with
// the status code.
func call(method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequest(method, daemonURL(path), body)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("daemon not running: %w", err)
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// reply prints the msg of a lifecycle response, or returns its error.
func reply(method, path string, body io.Reader) error {
	code, data, err := call(method, path, body)
	if err != nil {
		return err
	}

	var result struct {
		Msg    string   `json:"msg"`
		Error  string   `json:"error"`
		Failed []string `json:"failed"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("unexpected response (%d): %s", code, strings.TrimSpace(string(data)))
	}

	if code != http.StatusOK {
		if len(result.Failed) > 0 {
			return fmt.Errorf("%s (failed: %s)", result.Error, strings.Join(result.Failed, ", "))
		}
		return fmt.Errorf("%s", result.Error)
	}

	fmt.Println(result.Msg)
	return nil
}

// fetch decodes the data field of a successful read response into out.
func fetch(path string, out any) error {
	code, data, err := call(http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	if code != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &failure)
		if failure.Error == "" {
			failure.Error = http.StatusText(code)
		}
		return fmt.Errorf("%s", failure.Error)
	}

	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml or /etc/mirrorctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
}
