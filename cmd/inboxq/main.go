package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veilmsg/inboxq/internal/cmd/queuecmd"
	cfgpkg "github.com/veilmsg/inboxq/internal/config"
	"github.com/veilmsg/inboxq/internal/runtime"
	logpkg "github.com/veilmsg/inboxq/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inboxq",
		Short: "inboxq operator CLI",
		Long:  "inboxq is a durable job queue for incoming encrypted group messages. This CLI inspects and manages the embedded store.",
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the store opens and responds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := cfgpkg.FromEnv(&cfg); err != nil {
				return err
			}
			dataDir, _ := cmd.Flags().GetString("data-dir")
			logger, err := logpkg.ApplyConfig(&cfg.Log)
			if err != nil {
				return err
			}
			rt, err := runtime.Open(runtime.Options{DataDir: dataDir, Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.CheckHealth(context.Background()); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	healthCmd.Flags().String("data-dir", "", "Data directory")
	healthCmd.Flags().String("config", "", "Config file (JSON or YAML)")
	rootCmd.AddCommand(healthCmd)

	rootCmd.AddCommand(queuecmd.NewQueueCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
