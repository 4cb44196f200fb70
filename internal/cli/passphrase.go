package cli

import (
	"bytes"
	"fmt"

	"github.com/nace/skrinja/internal/ui"
	"github.com/spf13/cobra"
)

// AddPassphraseCommand enrolls an interactive passphrase into a container
type AddPassphraseCommand struct {
	ctx         *GlobalContext
	authKeyfile string
}

// NewAddPassphraseCommand creates the add-passphrase command
func NewAddPassphraseCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &AddPassphraseCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "add-passphrase <name>",
		Short: "Enroll an interactive passphrase into a container",
		Long: `Enroll a passphrase as an additional keyslot, so the container can be
opened with cryptsetup directly when no key file is at hand.`,
		Args: cobra.ExactArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVar(&cmd.authKeyfile, "auth-keyfile", "",
		"Authenticating key file (defaults to the container's private key)")

	return cobraCmd
}

// Run executes the add-passphrase command
func (c *AddPassphraseCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.preflight(); err != nil {
		return err
	}

	name := args[0]

	passphrase, err := ui.PromptPassword("New passphrase")
	if err != nil {
		return err
	}
	defer passphrase.Zeroize()

	repeat, err := ui.PromptPassword("Repeat passphrase")
	if err != nil {
		return err
	}
	defer repeat.Zeroize()

	if passphrase.Len() == 0 {
		return fmt.Errorf("passphrase must not be empty")
	}
	if !bytes.Equal(passphrase.Bytes(), repeat.Bytes()) {
		return fmt.Errorf("passphrases do not match")
	}

	if err := c.ctx.Lifecycle.AddPassphrase(name, c.authKeyfile, passphrase); err != nil {
		return err
	}

	c.ctx.Logger.Success("Passphrase enrolled into container %s", name)
	return nil
}
