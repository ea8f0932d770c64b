package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/attachebot/attache/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running instance's transport and pipeline state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: 5 * time.Second}
		url := fmt.Sprintf("http://%s:%d/api/status", cfg.HTTP.Host, cfg.HTTP.Port)
		resp, err := client.Get(url)
		if err != nil {
			color.Red("not running (%v)", err)
			return nil
		}
		defer resp.Body.Close()

		var out struct {
			Transport1 struct {
				Status string `json:"status"`
			} `json:"transport1"`
			Transport2 struct {
				Connected bool `json:"connected"`
			} `json:"transport2"`
			Pipeline struct {
				QueueDepth     int `json:"queue_depth"`
				WorkerCount    int `json:"worker_count"`
				PendingReports int `json:"pending_reports"`
				KeysAvailable  int `json:"keys_available"`
			} `json:"pipeline"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}

		paint := func(ok bool) func(format string, a ...interface{}) {
			if ok {
				return color.Green
			}
			return color.Red
		}

		paint(out.Transport1.Status == "connected")("whatsapp:  %s", out.Transport1.Status)
		paint(out.Transport2.Connected)("telegram:  connected=%v", out.Transport2.Connected)
		fmt.Printf("queue:     depth=%d workers=%d\n", out.Pipeline.QueueDepth, out.Pipeline.WorkerCount)
		fmt.Printf("reports:   pending=%d\n", out.Pipeline.PendingReports)
		fmt.Printf("llm keys:  available=%d\n", out.Pipeline.KeysAvailable)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
