package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/voltshift/internal/client"
	"github.com/danmuck/voltshift/internal/frontend"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/spf13/cobra"
)

func newOffsetCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offset [domain=mV ...]",
		Short: "Show or set voltage offsets",
		Long: `Show every plane's voltage offset, or set offsets given as domain=mV pairs.

Domains: cpu, gpu, cache, system_agent, analog_io, digital_io (or 0-5).
Example: voltshift offset cpu=-100 cache=-100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := parseOffsets(args)
			if err != nil {
				return err
			}
			return g.withTools(cmd, func(t *frontend.Tools, _ *client.Client) error {
				for _, ch := range changes {
					if err := t.SetOffset(cmd.Context(), ch.Domain, ch.MilliVolts); err != nil {
						return err
					}
					ok.Fprintf(cmd.OutOrStdout(), "set %s to %+.1f mV\n", ch.Domain, ch.MilliVolts)
				}
				offsets, err := t.Offsets()
				if err != nil {
					return err
				}
				for _, o := range offsets {
					label.Fprintf(cmd.OutOrStdout(), "%-13s", o.Domain)
					fmt.Fprintf(cmd.OutOrStdout(), "%+7.1f mV\n", o.MilliVolts)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&g.overvolt, "allow-overvolt", false, "permit positive offsets (can damage hardware)")
	return cmd
}

func parseOffsets(args []string) ([]frontend.Offset, error) {
	out := make([]frontend.Offset, 0, len(args))
	for _, arg := range args {
		name, value, found := strings.Cut(arg, "=")
		if !found {
			return nil, fmt.Errorf("offset %q: want domain=mV", arg)
		}
		d, err := mailbox.ParseDomain(name)
		if err != nil {
			return nil, err
		}
		mv, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("offset %q: %w", arg, err)
		}
		out = append(out, frontend.Offset{Domain: d, MilliVolts: mv})
	}
	return out, nil
}

func newPowerCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "power [PL1 PL2]",
		Short: "Show or set package power limits in watts",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("power takes no arguments or PL1 PL2, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var set *frontend.PowerLimits
			if len(args) == 2 {
				pl1, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return fmt.Errorf("PL1: %w", err)
				}
				pl2, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("PL2: %w", err)
				}
				set = &frontend.PowerLimits{PL1: pl1, PL2: pl2}
			}
			return g.withTools(cmd, func(t *frontend.Tools, _ *client.Client) error {
				if set != nil {
					if err := t.SetPowerLimits(*set); err != nil {
						return err
					}
				}
				limits, err := t.PowerLimits()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "PL1 %.1f W\nPL2 %.1f W\n", limits.PL1, limits.PL2)
				return nil
			})
		},
	}
}

func newTurboCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:       "turbo [on|off]",
		Short:     "Show or toggle turbo boost",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off", "1", "0"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withTools(cmd, func(t *frontend.Tools, _ *client.Client) error {
				if len(args) == 1 {
					enable := args[0] == "on" || args[0] == "1"
					if err := t.SetTurbo(enable); err != nil {
						return err
					}
				}
				on, err := t.Turbo()
				if err != nil {
					return err
				}
				state := "disabled"
				if on {
					state = "enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "turbo %s\n", state)
				return nil
			})
		},
	}
}
