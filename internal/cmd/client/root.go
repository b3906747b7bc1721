package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the towl client.
// It registers the logs, send and sync commands.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "towl",
		Short: "Towl client commands",
	}
	Register(root)
	return root
}

// Register adds the client commands to an existing root.
func Register(root *cobra.Command) {
	root.AddCommand(NewLogsCommand())
	root.AddCommand(NewSendCommand())
	root.AddCommand(NewSyncCommand())
}
