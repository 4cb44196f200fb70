package cli

import (
	"github.com/nace/skrinja/internal/ui"
	"github.com/spf13/cobra"
)

// OpenCommand opens a container's device mapping
type OpenCommand struct {
	ctx     *GlobalContext
	keyfile string
}

// NewOpenCommand creates the open command
func NewOpenCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &OpenCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "open <name>",
		Short: "Open a container's device mapping",
		Long: `Open the encrypted container under its device mapper name. A stale
mapping left by a previous session is closed first, so open always
results in exactly one live mapping.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.keyfile, "keyfile", "k", "", "Key file (defaults to the container's private key)")

	return cobraCmd
}

// Run executes the open command
func (c *OpenCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	} else {
		name = ui.PromptString("Container name")
	}

	handle, err := c.ctx.Lifecycle.Open(name, c.keyfile)
	if err != nil {
		return err
	}

	c.ctx.Logger.Success("Container opened: /dev/mapper/%s", handle.MapperName)
	return nil
}
