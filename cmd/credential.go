package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/vault"
)

func credentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage tool-server credentials",
		Long: "Store or remove the shared secret for a registered tool server. " +
			"Secrets are encrypted with the office key derived from PARLEY_MASTER_SECRET.",
	}
	cmd.AddCommand(credentialSetCmd())
	cmd.AddCommand(credentialDeleteCmd())
	return cmd
}

func credentialStores() (*store.Stores, *vault.Vault, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.MasterSecret == "" {
		return nil, nil, fmt.Errorf("PARLEY_MASTER_SECRET is not set")
	}
	stores, err := openStores(cfg)
	if err != nil {
		return nil, nil, err
	}
	v, err := vault.New([]byte(cfg.Vault.MasterSecret))
	if err != nil {
		stores.Close()
		return nil, nil, err
	}
	return stores, v, nil
}

// readSecret takes the credential from PARLEY_CREDENTIAL or, failing that,
// one line on stdin. A flag would leak the secret into shell history.
func readSecret() (string, error) {
	if v := os.Getenv("PARLEY_CREDENTIAL"); v != "" {
		return v, nil
	}
	fmt.Fprint(os.Stderr, "credential: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", fmt.Errorf("empty credential")
	}
	return secret, nil
}

func credentialSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <office-id> <server-id>",
		Short: "Encrypt and store a tool-server credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			officeID := args[0]
			serverID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid server id %q", args[1])
			}
			secret, err := readSecret()
			if err != nil {
				return err
			}

			stores, v, err := credentialStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			ciphertext, err := v.Encrypt(officeID, []byte(secret))
			if err != nil {
				return fmt.Errorf("encrypt credential: %w", err)
			}
			if err := stores.Credentials.Put(context.Background(), officeID, serverID, ciphertext); err != nil {
				return fmt.Errorf("store credential: %w", err)
			}
			fmt.Printf("credential stored for server %s\n", serverID)
			return nil
		},
	}
}

func credentialDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <office-id> <server-id>",
		Short: "Remove a stored tool-server credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			officeID := args[0]
			serverID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid server id %q", args[1])
			}
			stores, _, err := credentialStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			if err := stores.Credentials.Delete(context.Background(), officeID, serverID); err != nil {
				return fmt.Errorf("delete credential: %w", err)
			}
			fmt.Printf("credential removed for server %s\n", serverID)
			return nil
		},
	}
}
