package commands

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bit2swaz/storage-janitor/internal/auth"
)

func newLoginCommand() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the platform API token used by the api driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprint(out, "Please paste your platform API token: ")

			byteToken, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(out)
			if err != nil {
				return fmt.Errorf("read token: %w", err)
			}

			creds := auth.Credentials{
				ServerURL: strings.TrimSpace(serverURL),
				Token:     strings.TrimSpace(string(byteToken)),
			}
			if err := auth.SaveCredentials(creds); err != nil {
				return err
			}

			logInfo(out, "Token saved successfully.")
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "platform server URL")

	return cmd
}
