package main

import (
	"encoding/hex"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/internal/difficulty"
	"github.com/nganji523/packetcrypt-rs/pkg/packetcrypt"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print the fields of an announcement",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	raw, err := readHexFile(args[0])
	if err != nil {
		return err
	}
	ann, err := packetcrypt.ParseAnn(raw)
	if err != nil {
		return err
	}

	var key crypto.SigningKey
	copy(key[:], ann.SigningKey())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "version\t%d\n", ann.Version())
	fmt.Fprintf(w, "soft nonce\t%d\n", ann.SoftNonceField())
	fmt.Fprintf(w, "hard nonce\t%d\n", ann.HardNonce())
	fmt.Fprintf(w, "work bits\t%#08x\n", ann.WorkBits())
	if target, err := difficulty.ValidateTarget(ann.WorkBits()); err == nil {
		fmt.Fprintf(w, "target\t%064x\n", target)
		fmt.Fprintf(w, "work\t%s\n", difficulty.CalcWork(ann.WorkBits()))
	}
	fmt.Fprintf(w, "parent height\t%d\n", ann.ParentBlockHeight())
	fmt.Fprintf(w, "content type\t%d\n", ann.ContentType())
	fmt.Fprintf(w, "content length\t%d\n", ann.ContentLength())
	fmt.Fprintf(w, "content hash\t%s\n", hex.EncodeToString(ann.ContentHash()))
	if key.IsZero() {
		fmt.Fprintf(w, "signing key\tnone\n")
	} else {
		fmt.Fprintf(w, "signing key\t%s\n", key)
		fmt.Fprintf(w, "announcer\t%s\n", crypto.AnnouncerAddress(key))
	}
	fmt.Fprintf(w, "item-4 prefix\t%s\n", hex.EncodeToString(ann.Item4Prefix()))
	fmt.Fprintf(w, "digest\t%s\n", crypto.HashBytes(raw))
	return w.Flush()
}
