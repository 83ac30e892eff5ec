// Package commands implements the voltshift command line.
package commands

import (
	"context"
	"os"
	"time"

	"github.com/danmuck/voltshift/internal/client"
	"github.com/danmuck/voltshift/internal/frontend"
	"github.com/danmuck/voltshift/internal/logging"
	"github.com/danmuck/voltshift/internal/server"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const socketEnv = "VOLTSHIFT_SOCKET"

type globals struct {
	socket   string
	timeout  time.Duration
	overvolt bool
}

// NewRootCmd builds the voltshift command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "voltshift",
		Short: "Undervolt, power limit and inspect an Intel CPU through voltshiftd",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	socket := server.DefaultSocketPath
	if env := os.Getenv(socketEnv); env != "" {
		socket = env
	}
	root.PersistentFlags().StringVar(&g.socket, "socket", socket, "broker socket path")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", client.DefaultTimeout, "per-request timeout")

	root.AddCommand(
		newInfoCmd(g),
		newMonCmd(g),
		newOffsetCmd(g),
		newPowerCmd(g),
		newTurboCmd(g),
		newReadCmd(g),
		newWriteCmd(g),
		newReportCmd(g),
	)
	return root
}

// Execute runs the command line and prints any error in red.
func Execute(version string) error {
	logging.ConfigureRuntime()
	root := NewRootCmd()
	root.Version = version
	err := root.Execute()
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "error: ")
		color.New(color.FgRed).Fprintf(os.Stderr, "%v\n", err)
	}
	return err
}

func (g *globals) dial(ctx context.Context) (*client.Client, error) {
	return client.Dial(ctx, g.socket, client.Options{Timeout: g.timeout})
}

// withTools dials the broker, runs fn and closes the session.
func (g *globals) withTools(cmd *cobra.Command, fn func(*frontend.Tools, *client.Client) error) error {
	c, err := g.dial(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(frontend.New(c, frontend.Options{AllowOvervolt: g.overvolt}), c)
}

var (
	label = color.New(color.FgCyan)
	ok    = color.New(color.FgGreen)
)
