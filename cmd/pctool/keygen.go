package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/internal/storage"
)

type keygenFlags struct {
	keyStore string
	list     bool
	show     bool
}

var keygenOpts keygenFlags

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create an announcer signing key",
	Args:  cobra.NoArgs,
	RunE:  runKeygen,
}

func init() {
	f := keygenCmd.Flags()
	f.StringVar(&keygenOpts.keyStore, "keystore", storage.DefaultKeyStorePath(), "Key store directory")
	f.BoolVar(&keygenOpts.list, "list", false, "List stored announcer addresses instead")
	f.BoolVar(&keygenOpts.show, "show-private", false, "Also print the private key")
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	ks, err := storage.NewKeyStore(keygenOpts.keyStore)
	if err != nil {
		return err
	}
	defer ks.Close()

	out := cmd.OutOrStdout()
	if keygenOpts.list {
		addresses, err := ks.Addresses()
		if err != nil {
			return err
		}
		if len(addresses) == 0 {
			fmt.Fprintln(out, "no keys stored")
			return nil
		}
		for i, addr := range addresses {
			fmt.Fprintf(out, "%d. %s\n", i+1, addr)
		}
		return nil
	}

	id, err := crypto.NewIdentity()
	if err != nil {
		return err
	}
	if err := ks.SaveIdentity(id); err != nil {
		return err
	}

	fmt.Fprintf(out, "address:     %s\n", id.Address())
	fmt.Fprintf(out, "signing key: %s\n", id.SigningKey())
	if keygenOpts.show {
		fmt.Fprintf(out, "private key: %s\n", id.PrivateKeyHex())
	}
	fmt.Fprintf(out, "saved to %s\n", keygenOpts.keyStore)
	return nil
}
