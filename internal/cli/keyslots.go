package cli

import (
	"fmt"

	"github.com/nace/skrinja/internal/system"
	"github.com/spf13/cobra"
)

// AddKeyCommand enrolls an additional key file into a container
type AddKeyCommand struct {
	ctx         *GlobalContext
	authKeyfile string
}

// NewAddKeyCommand creates the add-key command
func NewAddKeyCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &AddKeyCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "add-key <name> <new-keyfile>",
		Short: "Enroll an additional key file into a container",
		Args:  cobra.ExactArgs(2),
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().StringVar(&cmd.authKeyfile, "auth-keyfile", "",
		"Authenticating key file (defaults to the container's private key)")

	return cobraCmd
}

// Run executes the add-key command
func (c *AddKeyCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	name, newKeyfile := args[0], args[1]
	resolved, err := system.ValidateKeyfilePath(newKeyfile)
	if err != nil {
		return err
	}

	if err := c.ctx.Lifecycle.AddKey(name, c.authKeyfile, resolved); err != nil {
		return err
	}

	c.ctx.Logger.Success("Key enrolled into container %s", name)
	return nil
}

// RemoveKeyCommand removes a keyslot from a container
type RemoveKeyCommand struct {
	ctx *GlobalContext
}

// NewRemoveKeyCommand creates the remove-key command
func NewRemoveKeyCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &RemoveKeyCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "remove-key <name> <keyfile>",
		Short: "Remove the keyslot a key file unlocks",
		Long: `Remove the keyslot that the given key file unlocks. Removing the last
remaining keyslot is rejected, since that would make the container
permanently unopenable.`,
		Args: cobra.ExactArgs(2),
		RunE: cmd.Run,
	}
}

// Run executes the remove-key command
func (c *RemoveKeyCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	name, keyfile := args[0], args[1]
	if err := c.ctx.Lifecycle.RemoveKey(name, keyfile); err != nil {
		return err
	}

	c.ctx.Logger.Success("Keyslot removed from container %s", name)
	return nil
}

// DumpCommand prints a container's keyslot table report
type DumpCommand struct {
	ctx *GlobalContext
}

// NewDumpCommand creates the dump command
func NewDumpCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &DumpCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "dump <name>",
		Short: "Show a container's keyslot table",
		Args:  cobra.ExactArgs(1),
		RunE:  cmd.Run,
	}
}

// Run executes the dump command
func (c *DumpCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	handle := c.ctx.Lifecycle.Handle(args[0])
	if ok, err := c.ctx.LUKSManager.IsLUKS(handle.Path); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("not an encrypted container: %s", handle.Path)
	}

	dump, err := c.ctx.LUKSManager.DumpKeyslots(handle.Path)
	if err != nil {
		return err
	}

	fmt.Print(dump)
	return nil
}
