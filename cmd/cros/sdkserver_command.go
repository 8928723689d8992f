package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chromite/internal/logging"
	"chromite/internal/sdkserver"
)

func newSDKServerCommand(ctx *commandContext) *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "sdk-server",
		Short: "Serve the Build API over a local socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			defer ctx.close()

			if strings.TrimSpace(socket) == "" {
				socket = cfg.SDKServerSocket()
			}
			router, err := ctx.newRouter()
			if err != nil {
				return err
			}
			srv, err := sdkserver.NewServer(cmd.Context(), socket, router, logger)
			if err != nil {
				return err
			}
			defer srv.Close()
			srv.Serve()

			logger.Info("sdk server started", logging.String("socket", socket))
			fmt.Fprintf(cmd.OutOrStdout(), "Serving the Build API on %s\n", socket)
			<-cmd.Context().Done()
			logger.Info("sdk server stopping", logging.String("socket", socket))
			return nil
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "Socket path (default from config)")
	return cmd
}
