package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bit2swaz/storage-janitor/internal/config"
)

// rootOptions are shared by every subcommand.
type rootOptions struct {
	configPath string
	viper      *viper.Viper
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{viper: config.NewViper()}

	root := &cobra.Command{
		Use:           "janitor",
		Short:         "Remove expired files from tenant storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to the janitor config file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")
	_ = opts.viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = opts.viper.BindPFlag("logging.format", flags.Lookup("log-format"))

	root.AddCommand(newInitCommand())
	root.AddCommand(newSweepCommand(opts))
	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newLoginCommand())

	return root
}

func Execute() error {
	return NewRootCommand().Execute()
}
