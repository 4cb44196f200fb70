package cli

import (
	"github.com/nace/skrinja/internal/container"
	"github.com/spf13/cobra"
)

// CloseAllCommand closes every live managed mapping
type CloseAllCommand struct {
	ctx *GlobalContext
}

// NewCloseAllCommand creates the close-all command
func NewCloseAllCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &CloseAllCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "close-all",
		Short: "Unmount and close every live managed mapping",
		Long: `Discover every active managed mapping from the kernel, unmount any
attached filesystems, and close the mappings. A failure on one mapping
does not stop the others; the run ends with a per-item summary.`,
		RunE: cmd.Run,
	}
}

// Run executes the close-all command
func (c *CloseAllCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	report, err := c.ctx.Lifecycle.CloseAllMappings()
	if err != nil {
		return err
	}

	return c.ctx.reportBulk("close-all", report)
}

// UnmountAllCommand unmounts every managed mount
type UnmountAllCommand struct {
	ctx *GlobalContext
}

// NewUnmountAllCommand creates the unmount-all command
func NewUnmountAllCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &UnmountAllCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "unmount-all",
		Short: "Unmount every managed mount",
		Long: `Discover every managed mount from the mount table and unmount each,
leaving device mappings open. Failures are aggregated, not fatal to
the run.`,
		RunE: cmd.Run,
	}
}

// Run executes the unmount-all command
func (c *UnmountAllCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	report, err := c.ctx.Lifecycle.UnmountAllVolumes()
	if err != nil {
		return err
	}

	return c.ctx.reportBulk("unmount-all", report)
}

func (ctx *GlobalContext) reportBulk(operation string, report *container.BulkReport) error {
	if err := report.Err(); err != nil {
		ctx.Logger.Error("%s: %s", operation, report.Summary())
		return err
	}
	ctx.Logger.Success("%s: %s", operation, report.Summary())
	return nil
}
