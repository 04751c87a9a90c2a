package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/cleandispatch/config"
)

var (
	assignJob string
	assignURL string
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Ask a running dispatcher to assign a cleaner to a pending job",
	RunE:  assignJobCmd,
}

func init() {
	assignCmd.Flags().StringVar(&assignJob, "job", "", "job id")
	assignCmd.Flags().StringVar(&assignURL, "url", "", "API base URL, defaults to http://<api.addr>")
	_ = assignCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(assignCmd)
}

func assignJobCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	base := assignURL
	if base == "" {
		if cfg.API.Addr == "" {
			return fmt.Errorf("api.addr is not configured, pass --url")
		}
		addr := cfg.API.Addr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		base = "http://" + addr
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	url := strings.TrimSuffix(base, "/") + "/api/jobs/" + assignJob + "/assign"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	if cfg.API.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.API.Token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("assign %s: %w", assignJob, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("assign %s: %s (%d)", assignJob, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("assign %s: status %d", assignJob, resp.StatusCode)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
	return err
}
