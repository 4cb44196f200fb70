package cli

import (
	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
	"github.com/spf13/cobra"
)

// CreateCommand handles container creation
type CreateCommand struct {
	ctx  *GlobalContext
	size string
}

// NewCreateCommand creates the create command
func NewCreateCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &CreateCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new encrypted container",
		Long: `Create a new encrypted container: the file is allocated at full size,
a dedicated key pair is generated and enrolled as the sole keyslot, the
deployment master key is enrolled as a recovery keyslot, and the
container ends up opened and mounted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.size, "size", "s", "", "Container size (e.g., 1G, 100M)")

	return cobraCmd
}

// Run executes the create command
func (c *CreateCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	} else {
		name = ui.PromptString("Container name")
	}

	if c.size == "" {
		c.size = ui.PromptStringWithDefault("Container size (e.g., 10G, 500M)", "1G")
	}
	sizeBytes, err := system.ParseSize(c.size)
	if err != nil {
		return err
	}

	c.ctx.Logger.Info("Creating %s encrypted container %s", system.FormatSize(sizeBytes), name)
	handle, err := c.ctx.Lifecycle.Create(name, sizeBytes)
	if err != nil {
		return err
	}

	c.ctx.Logger.Success("Container created: %s", handle.Path)
	c.ctx.Logger.Info("Mapping: %s, mounted at: %s", handle.MapperName, handle.MountPoint)
	return nil
}
