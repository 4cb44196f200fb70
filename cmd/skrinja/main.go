package main

import (
	"os"
	"sync"

	"github.com/nace/skrinja/internal/cli"
	"github.com/nace/skrinja/internal/config"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	quiet      bool
	noColor    bool
	debug      bool
	configFile string

	ctx  *cli.GlobalContext
	once sync.Once
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "skrinja",
	Short: "Skrinja - encrypted vault container manager",
	Long: `Skrinja manages LUKS2 encrypted vault containers whose keyslots hold
RSA key files: one dedicated key pair per container plus a
deployment-wide master key enrolled as a recovery path.

Containers live under a configured root, are opened under a canonical
device mapper name and mounted under a managed mount root. Bulk
recovery commands rediscover live state from the kernel, so stale
mappings from crashed sessions are always handled.`,
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Rebuild context components with parsed flag values
		var err error
		once.Do(func() {
			var cfg *config.Config
			cfg, err = config.Load(configFile)
			if err != nil {
				return
			}
			ctx.Rebuild(cfg, verbose, quiet, noColor, debug)
		})
		return err
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (suppress non-error output)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode (show commands)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: skrinja.yaml in ., ~/.skrinja, /etc/skrinja)")

	// Create initial context with default values
	// Will be updated in PersistentPreRunE with parsed flag values
	ctx = cli.NewGlobalContext(config.Default(), false, false, false, false)

	// Register commands
	rootCmd.AddCommand(cli.NewCreateCommand(ctx))
	rootCmd.AddCommand(cli.NewOpenCommand(ctx))
	rootCmd.AddCommand(cli.NewCloseCommand(ctx))
	rootCmd.AddCommand(cli.NewMountCommand(ctx))
	rootCmd.AddCommand(cli.NewUnmountCommand(ctx))
	rootCmd.AddCommand(cli.NewAddKeyCommand(ctx))
	rootCmd.AddCommand(cli.NewAddPassphraseCommand(ctx))
	rootCmd.AddCommand(cli.NewRemoveKeyCommand(ctx))
	rootCmd.AddCommand(cli.NewDumpCommand(ctx))
	rootCmd.AddCommand(cli.NewInitMasterCommand(ctx))
	rootCmd.AddCommand(cli.NewRotateMasterCommand(ctx))
	rootCmd.AddCommand(cli.NewRecoverKeyCommand(ctx))
	rootCmd.AddCommand(cli.NewListCommand(ctx))
	rootCmd.AddCommand(cli.NewCloseAllCommand(ctx))
	rootCmd.AddCommand(cli.NewUnmountAllCommand(ctx))

	// Set up help templates
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
