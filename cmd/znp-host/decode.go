package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"znp-host/internal/capture"
	"znp-host/internal/znp"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <capture>",
		Short: "Print the frames of a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd, false)
			if err != nil {
				return err
			}
			registry, err := znp.LoadRegistry(cfg.Definitions...)
			if err != nil {
				return fmt.Errorf("load definitions: %w", err)
			}
			records, err := capture.ReadAll(args[0])
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), registry, records)
			return nil
		},
	}
}

// printRecords writes one line per record. Frames the registry does not know
// are printed as hex.
func printRecords(w io.Writer, registry *znp.Registry, records []capture.Record) {
	for _, rec := range records {
		ts := rec.TS.Format(time.RFC3339Nano)
		frame, err := rec.Decode()
		if err != nil {
			fmt.Fprintf(w, "%s %s bad frame %s: %v\n", ts, rec.Dir, hex.EncodeToString(rec.Frame), err)
			continue
		}
		msg, err := znp.DecodeFrame(registry, frame)
		if err != nil {
			fmt.Fprintf(w, "%s %s %s:0x%02X %s: %v\n", ts, rec.Dir, frame.Subsystem, frame.Command, hex.EncodeToString(frame.Payload), err)
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", ts, rec.Dir, msg)
	}
}
