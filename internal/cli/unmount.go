package cli

import (
	"github.com/nace/skrinja/internal/ui"
	"github.com/spf13/cobra"
)

// UnmountCommand detaches a container's filesystem
type UnmountCommand struct {
	ctx *GlobalContext
}

// NewUnmountCommand creates the unmount command
func NewUnmountCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &UnmountCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "unmount <name>",
		Short: "Unmount a container's filesystem",
		Long: `Detach the container's filesystem, leaving the device mapping open.
If the mount is busy, the holding processes are reported and a forced
detach is offered; declining aborts the operation.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}
}

// Run executes the unmount command
func (c *UnmountCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	} else {
		name = ui.PromptString("Container name")
	}

	if err := c.ctx.Lifecycle.Unmount(name); err != nil {
		return err
	}

	c.ctx.Logger.Success("Container unmounted: %s", name)
	return nil
}
