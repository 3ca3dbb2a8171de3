package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nganji523/packetcrypt-rs/internal/params"
	"github.com/nganji523/packetcrypt-rs/pkg/packetcrypt"
)

type globalFlags struct {
	network string
	remote  string
}

var global globalFlags

var rootCmd = &cobra.Command{
	Use:   "pctool",
	Short: "PacketCrypt announcement and share tool",
	Long: `pctool checks announcements and block shares locally or against a
running pcnode, decodes announcements and manages announcer keys.

Inputs are hex files; "-" reads standard input.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&global.network, "network", params.MainnetParams.Name, "Rules to validate against")
	rootCmd.PersistentFlags().StringVar(&global.remote, "remote", "", "Validate on the pcnode at this gRPC address")

	rootCmd.AddCommand(checkAnnCmd)
	rootCmd.AddCommand(checkBlockCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// localRuntime returns the local validator for the selected network
func localRuntime() (*packetcrypt.Runtime, error) {
	p, err := params.ByName(global.network)
	if err != nil {
		return nil, err
	}
	return packetcrypt.Init().WithParams(p), nil
}

// readHexFile reads hex-encoded bytes from path, or stdin for "-"
func readHexFile(path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	decoded, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return decoded, nil
}
