/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quillpress/apiserver/config"
	"github.com/quillpress/apiserver/internal/logging"
	"github.com/quillpress/apiserver/internal/mq"
	"github.com/quillpress/apiserver/internal/notify"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Delivers queued mail",
	Long: `Consumes the outbound mail queue and delivers each message over SMTP,
or logs it when SMTP_HOST is unset. Requires a rabbitmq or pubsub broker;
with MQ_BACKEND=memory the server delivers mail itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg.Log, "mailer")

		broker, err := mq.Open(cmd.Context(), cfg.MQ, logger)
		if err != nil {
			logger.Error().Err(err).Str(logging.FieldFault, logging.FaultOperator).Msg("failed to connect broker")
			return err
		}
		defer broker.Close()

		worker := notify.NewWorker(broker, cfg.MQ.MailQueue, notify.NewSender(cfg.SMTP, logger), logger)
		return worker.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
