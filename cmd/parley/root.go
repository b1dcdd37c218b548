package main

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-parley/backend/internal/logging"
	"github.com/zhouzirui/z-parley/backend/pkg/client"
)

const defaultServer = "http://localhost:8080"

// app carries the state shared by every subcommand.
type app struct {
	server   string
	logLevel string

	client *client.Client
	logger *zap.Logger
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	root := &cobra.Command{
		Use:           "parley",
		Short:         "Drive multi-persona negotiations on a parley server",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(a.logLevel, "console")
			if err != nil {
				return err
			}
			a.logger = logger
			a.client = client.New(strings.TrimSpace(a.server))
			a.out = cmd.OutOrStdout()
			return nil
		},
	}

	server := os.Getenv("PARLEY_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&a.server, "server", server, "Base URL of the parley server (env PARLEY_SERVER)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level for client-side diagnostics")

	root.AddCommand(
		newPersonasCmd(a),
		newModelsCmd(a),
		newStartCmd(a),
		newShowCmd(a),
		newNextCmd(a),
		newRunCmd(a),
		newWatchCmd(a),
		newClearCmd(a),
	)
	return root
}
