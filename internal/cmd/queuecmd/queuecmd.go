// Package queuecmd contains Cobra CLI commands for inspecting and managing
// the embedded job queue.
package queuecmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "github.com/veilmsg/inboxq/internal/config"
	"github.com/veilmsg/inboxq/internal/runtime"
	logpkg "github.com/veilmsg/inboxq/pkg/log"
)

// NewQueueCommand constructs the `queue` command group and subcommands.
// Commands open the embedded store directly, so they must not run while a
// live process owns the data directory.
func NewQueueCommand() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the incoming-message job queue",
	}
	queueCmd.PersistentFlags().String("data-dir", "", "Data directory (defaults to config, then the OS data dir)")
	queueCmd.PersistentFlags().String("config", "", "Config file (JSON or YAML)")
	queueCmd.PersistentFlags().String("queue", "", "Queue name (defaults to config)")

	queueCmd.AddCommand(
		newQueueStatsCommand(),
		newQueueListCommand(),
		newQueueDropCommand(),
	)
	return queueCmd
}

func openRuntime(cmd *cobra.Command) (*runtime.Runtime, string, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(cfgPath)
	if err != nil {
		return nil, "", err
	}
	if err := cfgpkg.FromEnv(&cfg); err != nil {
		return nil, "", err
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	queue, _ := cmd.Flags().GetString("queue")
	if queue == "" {
		queue = cfg.Queue.Name
	}
	logger := logpkg.NewLogger(logpkg.WithLevel(logpkg.WarnLevel))
	rt, err := runtime.Open(runtime.Options{DataDir: dataDir, Config: cfg, Logger: logger})
	if err != nil {
		return nil, "", err
	}
	return rt, queue, nil
}

func newQueueStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pending job count for the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, queue, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			store, err := rt.OpenQueue(queue)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"queue":   queue,
					"pending": store.Count(),
				})
			}
			fmt.Printf("queue:   %s\npending: %d\n", queue, store.Count())
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Emit JSON")
	return cmd
}

type listedJob struct {
	ID               uint64 `json:"id"`
	CreatedAt        string `json:"createdAt"`
	ServerDeliveryTs uint64 `json:"serverDeliveryTimestamp"`
	Group            string `json:"group,omitempty"`
	WasReceivedByUD  bool   `json:"wasReceivedByUD"`
	HasPlaintext     bool   `json:"hasPlaintext"`
	EnvelopeBytes    int    `json:"envelopeBytes"`
}

func newQueueListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending jobs in processing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, queue, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			store, err := rt.OpenQueue(queue)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			jobs, err := store.NextBatch(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := make([]listedJob, 0, len(jobs))
			for _, j := range jobs {
				out = append(out, listedJob{
					ID:               j.ID,
					CreatedAt:        j.CreatedAt.Format(time.RFC3339),
					ServerDeliveryTs: j.ServerDeliveryTimestamp,
					Group:            hex.EncodeToString(j.GroupID),
					WasReceivedByUD:  j.WasReceivedByUD,
					HasPlaintext:     j.PlaintextData != nil,
					EnvelopeBytes:    len(j.EnvelopeData),
				})
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(out)
			}
			for _, j := range out {
				group := j.Group
				if group == "" {
					group = "-"
				}
				fmt.Printf("%8d  ts=%d  group=%s  ud=%v  plaintext=%v  env=%dB  %s\n",
					j.ID, j.ServerDeliveryTs, group, j.WasReceivedByUD, j.HasPlaintext, j.EnvelopeBytes, j.CreatedAt)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum jobs to list")
	cmd.Flags().Bool("json", false, "Emit JSON")
	return cmd
}

func newQueueDropCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Remove a pending job without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetUint64("id")
			if id == 0 {
				return fmt.Errorf("--id is required")
			}
			rt, queue, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			store, err := rt.OpenQueue(queue)
			if err != nil {
				return err
			}
			if err := store.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("dropped job %d\n", id)
			return nil
		},
	}
	cmd.Flags().Uint64("id", 0, "Job id to drop")
	return cmd
}
