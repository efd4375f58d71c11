package main

import (
	"os"

	"github.com/networkup/chat/internal/logger"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	logger.SetPrefix("chat-api")
	if err := newRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chat-api",
		Short:         "Real-time chat: conversations, messages, WebSocket fan-out",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				os.Setenv("CONFIG_PATH", configPath)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (overrides CONFIG_PATH)")

	serve := newServeCmd()
	root.AddCommand(serve, newMigrateCmd())
	// chat-api без подкоманды == chat-api serve
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}
