package cli

import (
	"github.com/nace/skrinja/internal/ui"
	"github.com/spf13/cobra"
)

// InitMasterCommand creates the deployment master key pair
type InitMasterCommand struct {
	ctx *GlobalContext
}

// NewInitMasterCommand creates the init-master command
func NewInitMasterCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &InitMasterCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "init-master",
		Short: "Create the deployment master key pair",
		Long: `Generate the deployment-wide master key pair used as a recovery
keyslot in every container. If a master key already exists you are
asked before it is replaced; declining keeps the existing key.

Replacing the master key does NOT update keyslots of existing
containers; use rotate-master per container for that.`,
		RunE: cmd.Run,
	}
}

// Run executes the init-master command
func (c *InitMasterCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	created, err := c.ctx.Keys.CreateMasterKeyPair(ui.TerminalConfirmer{})
	if err != nil {
		return err
	}

	if !created {
		c.ctx.Logger.Info("Existing master key kept: %s", c.ctx.Keys.MasterPaths().PrivateKey)
		return nil
	}

	c.ctx.Logger.Success("Master key pair created: %s", c.ctx.Keys.MasterPaths().PrivateKey)
	return nil
}

// RotateMasterCommand rotates the master keyslot of one container
type RotateMasterCommand struct {
	ctx *GlobalContext
}

// NewRotateMasterCommand creates the rotate-master command
func NewRotateMasterCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &RotateMasterCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "rotate-master <name>",
		Short: "Rotate the master keyslot of a container",
		Long: `Generate a new master key pair, enroll it into the container
authenticated by the container's own key, remove the old master
keyslot, and promote the new pair to the canonical master key path.
The container keeps at least one valid master-capable keyslot at every
step of the rotation.`,
		Args: cobra.ExactArgs(1),
		RunE: cmd.Run,
	}
}

// Run executes the rotate-master command
func (c *RotateMasterCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	name := args[0]
	c.ctx.Logger.Info("Rotating master key for container %s", name)
	if err := c.ctx.Lifecycle.RotateMaster(name); err != nil {
		return err
	}

	c.ctx.Logger.Success("Master key rotated for container %s", name)
	c.ctx.Logger.Info("New master key: %s", c.ctx.Keys.MasterPaths().PrivateKey)
	return nil
}

// RecoverKeyCommand restores a container key pair from escrow
type RecoverKeyCommand struct {
	ctx *GlobalContext
}

// NewRecoverKeyCommand creates the recover-key command
func NewRecoverKeyCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &RecoverKeyCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "recover-key <name>",
		Short: "Restore a container key pair from escrow",
		Long: `Unseal the container's escrowed private key with the master private
key and write the key pair back to the key store. Use this when a
container's own key files were lost or corrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: cmd.Run,
	}
}

// Run executes the recover-key command
func (c *RecoverKeyCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	kp, err := c.ctx.Lifecycle.RecoverKey(args[0])
	if err != nil {
		return err
	}

	c.ctx.Logger.Success("Container key restored: %s", kp.PrivateKey)
	return nil
}
