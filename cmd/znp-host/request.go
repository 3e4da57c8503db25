package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

func newRequestCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "request <subsys> <cmd> [name=value...]",
		Short: "Send one MT command and print the response",
		Long: `Send one MT command and print the decoded response as JSON.

Integers accept 0x and 0b prefixes, buffers are hex and lists are comma
separated. List length fields are filled in automatically.

  znp-host request SYS ping
  znp-host request ZDO activeEpReq dstaddr=0x1234 nwkaddrofinterest=0x1234
  znp-host request UTIL ledControl ledid=1 mode=0`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, args, timeout)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "response timeout (default from driver.timeouts)")
	return cmd
}

func runRequest(cmd *cobra.Command, args []string, timeout time.Duration) error {
	sub, ok := unpi.ParseSubsystem(args[0])
	if !ok {
		return fmt.Errorf("unknown subsystem %q", args[0])
	}
	cfg, logger, err := setup(cmd, true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sess, err := openSession(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	def, ok := sess.drv.Registry().Lookup(sub, args[1])
	if !ok {
		return fmt.Errorf("%w: %s:%s", znp.ErrUnknownCommand, sub, args[1])
	}
	params, err := parseParams(def.Request, args[2:])
	if err != nil {
		return fmt.Errorf("%s: %w", def.Key(), err)
	}

	var opts []znp.RequestOption
	if timeout > 0 {
		opts = append(opts, znp.Timeout(timeout))
	}
	msg, err := sess.drv.Request(ctx, sub, def.Name, params, opts...)
	if err != nil {
		return err
	}
	if msg == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "sent")
		return nil
	}
	out, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// parseParams turns name=value arguments into request params typed by defs.
func parseParams(defs []znp.ParamDef, args []string) (znp.Params, error) {
	params := znp.Params{}
	for _, arg := range args {
		name, text, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q: want name=value", arg)
		}
		def := findParam(defs, name)
		if def == nil {
			return nil, fmt.Errorf("unknown parameter %q (have %s)", name, paramNames(defs))
		}
		v, err := znp.ParseParamText(def.Type, text)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", def.Name, err)
		}
		params[def.Name] = v
	}
	return params, nil
}

func findParam(defs []znp.ParamDef, name string) *znp.ParamDef {
	for i := range defs {
		if strings.EqualFold(defs[i].Name, name) {
			return &defs[i]
		}
	}
	return nil
}

func paramNames(defs []znp.ParamDef) string {
	if len(defs) == 0 {
		return "none"
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return strings.Join(names, ", ")
}
