package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/bankfeed/internal/secrets"
)

// newKeysCommand manages classifier API keys in the per-user key store.
func newKeysCommand(_ *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Store classifier API keys outside the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider> <key>",
		Short: "Store an API key for provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := secrets.DefaultKeyStore()
			if err != nil {
				return err
			}
			if err := store.StoreProviderKey(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: key stored\n", args[0])
			return nil
		},
	}, &cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := secrets.DefaultKeyStore()
			if err != nil {
				return err
			}
			if err := store.DeleteProviderKey(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: key deleted\n", args[0])
			return nil
		},
	})
	return cmd
}
