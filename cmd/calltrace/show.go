package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willibrandon/calltrace/pkg/recorder"
	"github.com/willibrandon/calltrace/pkg/replay"
)

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <trace>",
		Short: "Replay a trace document",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	cmd.Flags().StringP("filter", "f", "", "Only show captures whose location or state contains this text")
	cmd.Flags().BoolP("interactive", "I", false, "Browse captures interactively")
	cmd.Flags().String("verify-key", "", "Hex HMAC key to verify the trace digest with")
	return cmd
}

func runShow(cmd *cobra.Command, args []string) error {
	path := args[0]
	out := cmd.OutOrStdout()

	if key, _ := cmd.Flags().GetString("verify-key"); key != "" {
		k, err := hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("verify key must be hex: %w", err)
		}
		if err := recorder.VerifyFile(path, k); err != nil {
			return err
		}
		fmt.Fprintln(out, "integrity verified")
	}

	replayer, err := replay.Open(path, out)
	if err != nil {
		return err
	}

	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		return replay.NewCLI(replayer, cmd.InOrStdin(), out).Start()
	}

	filter, _ := cmd.Flags().GetString("filter")
	if filter != "" {
		replayer.Load(replay.Filter(replayer.Captures(), filter))
	}
	return replayer.ReplayForward()
}
