package cli

import (
	"github.com/nace/skrinja/internal/ui"
	"github.com/spf13/cobra"
)

// CloseCommand closes a container's mapping, unmounting first if needed
type CloseCommand struct {
	ctx *GlobalContext
}

// NewCloseCommand creates the close command
func NewCloseCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &CloseCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "close <name>",
		Short: "Close a container's device mapping",
		Long:  `Unmount the container's filesystem if mounted, then close its device mapping.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  cmd.Run,
	}
}

// Run executes the close command
func (c *CloseCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	} else {
		name = ui.PromptString("Container name")
	}

	if err := c.ctx.Lifecycle.Close(name); err != nil {
		return err
	}

	c.ctx.Logger.Success("Container closed: %s", name)
	return nil
}
