package cli

import (
	"github.com/nace/skrinja/internal/ui"
	"github.com/spf13/cobra"
)

// MountCommand attaches an opened container's filesystem
type MountCommand struct {
	ctx *GlobalContext
}

// NewMountCommand creates the mount command
func NewMountCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &MountCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "mount <name>",
		Short: "Mount an opened container",
		Long: `Attach the filesystem of an already-opened container at its canonical
mount point under the managed mount root, owned by the invoking user.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}
}

// Run executes the mount command
func (c *MountCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	} else {
		name = ui.PromptString("Container name")
	}

	mountPoint, err := c.ctx.Lifecycle.Mount(name)
	if err != nil {
		return err
	}

	c.ctx.Logger.Success("Container mounted at: %s", mountPoint)
	return nil
}
