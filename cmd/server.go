/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quillpress/apiserver/config"
	"github.com/quillpress/apiserver/internal/logging"
	"github.com/quillpress/apiserver/internal/server"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the quillpress backend server",
	Long: `Starts the quillpress backend server. Usage:

	quillpress server
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg.Log, "apiserver")

		srv, err := server.New(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error().Err(err).Str(logging.FieldFault, logging.FaultOperator).Msg("failed to start server")
			return err
		}
		if err := srv.Run(cmd.Context()); err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
