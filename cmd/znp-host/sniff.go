package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

func newSniffCmd() *cobra.Command {
	var (
		subsystems []string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "sniff",
		Short: "Print indications as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := make(map[unpi.Subsystem]bool)
			for _, name := range subsystems {
				sub, ok := unpi.ParseSubsystem(name)
				if !ok {
					return fmt.Errorf("unknown subsystem %q", name)
				}
				filter[sub] = true
			}
			return runSniff(cmd, filter, asJSON)
		},
	}
	cmd.Flags().StringSliceVarP(&subsystems, "subsystem", "s", nil, "only print these subsystems")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per line")
	return cmd
}

func runSniff(cmd *cobra.Command, filter map[unpi.Subsystem]bool, asJSON bool) error {
	cfg, logger, err := setup(cmd, true)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	p := &indicationPrinter{w: cmd.OutOrStdout(), filter: filter, json: asJSON, now: time.Now}
	unsub := sess.drv.SubscribeAll(p.print)
	defer unsub()

	select {
	case <-ctx.Done():
		return nil
	case <-sess.drv.Done():
		return fmt.Errorf("driver stopped: %w", sess.drv.Err())
	}
}

type indicationPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	filter map[unpi.Subsystem]bool
	json   bool
	now    func() time.Time
}

func (p *indicationPrinter) print(m *znp.Message) {
	if len(p.filter) > 0 && !p.filter[m.Subsystem] {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := p.now().Format("15:04:05.000")
	if !p.json {
		fmt.Fprintf(p.w, "%s %s\n", ts, m)
		return
	}
	line, err := json.Marshal(struct {
		TS string `json:"ts"`
		*znp.Message
	}{ts, m})
	if err != nil {
		fmt.Fprintf(p.w, "%s %s: %v\n", ts, m, err)
		return
	}
	fmt.Fprintln(p.w, string(line))
}
