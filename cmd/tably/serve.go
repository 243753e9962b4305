package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/tably/config"
	srv "github.com/mohammad-safakhou/tably/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the dining planner HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := srv.New(cfg)
			if err != nil {
				return err
			}
			return s.Run(ctx)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
