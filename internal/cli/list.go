package cli

import (
	"fmt"

	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
	"github.com/spf13/cobra"
)

// ListCommand lists live containers discovered from kernel state
type ListCommand struct {
	ctx  *GlobalContext
	json bool
}

// NewListCommand creates the list command
func NewListCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ListCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "list",
		Short: "List active containers",
		Long: `List every live managed container, discovered from active device
mappings and the mount table rather than any remembered state.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.json, "json", false, "Output as JSON")

	return cobraCmd
}

// Run executes the list command
func (c *ListCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	containers, err := c.ctx.Discovery.DiscoverActive()
	if err != nil {
		return err
	}

	if c.json {
		return ui.PrintJSON(containers)
	}

	if len(containers) == 0 {
		c.ctx.Logger.Info("No active containers")
		return nil
	}

	table := ui.NewTable("NAME", "MAPPING", "MOUNT POINT", "SIZE", "USED", "FILE")
	for _, cont := range containers {
		size, used := "-", "-"
		if cont.Size > 0 {
			size = system.FormatSize(cont.Size)
		}
		if cont.MountPoint != "" && cont.Size > 0 {
			used = fmt.Sprintf("%s (%.0f%%)", system.FormatSize(cont.Used),
				float64(cont.Used)/float64(cont.Size)*100)
		}
		mountPoint := cont.MountPoint
		if mountPoint == "" {
			mountPoint = "-"
		}
		table.AddRow(cont.Name, cont.MapperName, mountPoint, size, used, cont.Path)
	}
	table.Print()

	return nil
}
