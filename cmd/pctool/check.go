package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	rpc "github.com/nganji523/packetcrypt-rs/internal/grpc"
	"github.com/nganji523/packetcrypt-rs/pkg/packetcrypt"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

const remoteTimeout = 30 * time.Second

var checkAnnParent string

var checkAnnCmd = &cobra.Command{
	Use:   "check-ann <file>",
	Short: "Validate an announcement",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckAnn,
}

type checkBlockFlags struct {
	header      string
	lowNonce    uint32
	shareTarget uint32
	anns        []string
	coinbase    string
}

var checkBlockOpts checkBlockFlags

var checkBlockCmd = &cobra.Command{
	Use:   "check-block",
	Short: "Validate a block share",
	Args:  cobra.NoArgs,
	RunE:  runCheckBlock,
}

func init() {
	checkAnnCmd.Flags().StringVar(&checkAnnParent, "parent", "", "Hex hash of the parent block the announcement commits to")
	_ = checkAnnCmd.MarkFlagRequired("parent")

	f := checkBlockCmd.Flags()
	f.StringVar(&checkBlockOpts.header, "header", "", "Hex file with the 80-byte block header")
	f.Uint32Var(&checkBlockOpts.lowNonce, "low-nonce", 0, "Low nonce of the share")
	f.Uint32Var(&checkBlockOpts.shareTarget, "share-target", 0, "Compact share target")
	f.StringSliceVar(&checkBlockOpts.anns, "ann", nil, "Hex file of an announcement, repeated once per slot")
	f.StringVar(&checkBlockOpts.coinbase, "coinbase", "", "Hex coinbase commitment")
	_ = checkBlockCmd.MarkFlagRequired("header")
	_ = checkBlockCmd.MarkFlagRequired("share-target")
}

// report prints the outcome of a validation the way the result codes name it
func report(cmd *cobra.Command, hash types.Hash, err error) error {
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "result: %d (%v)\n", packetcrypt.ResultCode(err), err)
		return errors.New("validation failed")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "result: 0\nhash:   %s\n", hash)
	return nil
}

func dialRemote() (*rpc.Client, context.Context, context.CancelFunc, error) {
	client, err := rpc.Dial(global.remote)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	return client, ctx, cancel, nil
}

func runCheckAnn(cmd *cobra.Command, args []string) error {
	ann, err := readHexFile(args[0])
	if err != nil {
		return err
	}
	parent, err := types.HashFromString(checkAnnParent)
	if err != nil {
		return errors.Wrap(err, "--parent")
	}

	if global.remote != "" {
		client, ctx, cancel, err := dialRemote()
		if err != nil {
			return err
		}
		defer client.Close()
		defer cancel()
		hash, err := client.CheckAnn(ctx, ann, parent)
		return report(cmd, hash, err)
	}

	rt, err := localRuntime()
	if err != nil {
		return err
	}
	vctx := rt.NewValidateCtx()
	defer vctx.Destroy()
	hash, err := rt.CheckAnn(ann, &parent, vctx)
	return report(cmd, hash, err)
}

func runCheckBlock(cmd *cobra.Command, _ []string) error {
	header, err := readHexFile(checkBlockOpts.header)
	if err != nil {
		return err
	}
	anns := make([][]byte, len(checkBlockOpts.anns))
	for i, path := range checkBlockOpts.anns {
		if anns[i], err = readHexFile(path); err != nil {
			return err
		}
	}
	coinbase, err := hex.DecodeString(checkBlockOpts.coinbase)
	if err != nil {
		return errors.Wrap(err, "--coinbase")
	}

	if global.remote != "" {
		client, ctx, cancel, err := dialRemote()
		if err != nil {
			return err
		}
		defer client.Close()
		defer cancel()
		hash, err := client.CheckBlockWork(ctx, header, checkBlockOpts.lowNonce, checkBlockOpts.shareTarget, anns, coinbase)
		return report(cmd, hash, err)
	}

	rt, err := localRuntime()
	if err != nil {
		return err
	}
	hash, err := rt.CheckBlockWork(header, checkBlockOpts.lowNonce, checkBlockOpts.shareTarget, anns, coinbase)
	return report(cmd, hash, err)
}
