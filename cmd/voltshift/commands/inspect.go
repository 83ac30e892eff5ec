package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/voltshift/internal/broker"
	"github.com/danmuck/voltshift/internal/client"
	"github.com/danmuck/voltshift/internal/frontend"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/spf13/cobra"
)

func newInfoCmd(g *globals) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show frequency, voltage, temperature, power and offsets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withTools(cmd, func(t *frontend.Tools, c *client.Client) error {
				info, err := t.Info(cmd.Context(), interval, true)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printInfo(out, info)
				for _, o := range info.Offsets {
					label.Fprintf(out, "%-13s", o.Domain)
					fmt.Fprintf(out, "%+7.1f mV\n", o.MilliVolts)
				}
				if limits, err := t.PowerLimits(); err == nil {
					fmt.Fprintf(out, "power limits  PL1 %.1f W  PL2 %.1f W\n", limits.PL1, limits.PL2)
				}
				if on, err := t.Turbo(); err == nil {
					fmt.Fprintf(out, "turbo         %t\n", on)
				}
				hello := c.Session()
				fmt.Fprintf(out, "session       %s (%d/%d)\n", hello.SessionID, hello.Active, hello.Capacity)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "power measurement window")
	return cmd
}

func printInfo(out io.Writer, info frontend.Info) {
	label.Fprintf(out, "frequency     ")
	fmt.Fprintf(out, "%.0f MHz\n", info.FrequencyMHz)
	label.Fprintf(out, "voltage       ")
	fmt.Fprintf(out, "%.4f V\n", info.VoltageV)
	label.Fprintf(out, "temperature   ")
	fmt.Fprintf(out, "%d C\n", info.TemperatureC)
	label.Fprintf(out, "package power ")
	fmt.Fprintf(out, "%.2f W\n", info.PackageWatts)
}

func newMonCmd(g *globals) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "mon",
		Short: "Continuously monitor the package until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return g.withTools(cmd, func(t *frontend.Tools, _ *client.Client) error {
				samples := 0
				return t.Monitor(ctx, interval, func(info frontend.Info) error {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %5.0f MHz  %.4f V  %3d C  %6.2f W\n",
						time.Now().Format(time.TimeOnly),
						info.FrequencyMHz,
						info.VoltageV,
						info.TemperatureC,
						info.PackageWatts,
					)
					samples++
					if count > 0 && samples >= count {
						stop()
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "sample period")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after n samples (0 runs until interrupted)")
	return cmd
}

func parseHex(raw string, bits int) (uint64, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	return strconv.ParseUint(s, 16, bits)
}

func newReadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "read <msr>",
		Short: "Read a register (hex index)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseHex(args[0], 32)
			if err != nil {
				return fmt.Errorf("msr index: %w", err)
			}
			return g.withTools(cmd, func(t *frontend.Tools, _ *client.Client) error {
				v, err := t.ReadMSR(uint32(index))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "msr %#x = %#016x\n", index, v)
				return nil
			})
		},
	}
}

func newWriteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "write <msr> <value>",
		Short: "Write a register (hex index and value)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseHex(args[0], 32)
			if err != nil {
				return fmt.Errorf("msr index: %w", err)
			}
			value, err := parseHex(args[1], 64)
			if err != nil {
				return fmt.Errorf("msr value: %w", err)
			}
			return g.withTools(cmd, func(t *frontend.Tools, _ *client.Client) error {
				if err := t.WriteMSR(uint32(index), value); err != nil {
					return err
				}
				ok.Fprintf(cmd.OutOrStdout(), "msr %#x <- %#016x\n", index, value)
				return nil
			})
		},
	}
}

func newReportCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Dump the broker's shared report buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			c, err := g.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			region, err := c.SharedMemory()
			if err != nil {
				return err
			}
			defer region.Close()
			r, err := broker.DecodeReport(region.Bytes())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), r)
			return nil
		},
	}
}

func printReport(out io.Writer, r broker.Report) {
	fmt.Fprintf(out, "version %d sequence %d", r.Version, r.Sequence)
	if !r.SampledAt.IsZero() {
		fmt.Fprintf(out, " sampled %s", r.SampledAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)

	regs := []struct {
		name  string
		value uint64
		bit   uint64
	}{
		{"therm_status", r.ThermStatus, broker.ValidThermStatus},
		{"temp_target", r.TempTarget, broker.ValidTempTarget},
		{"perf_status", r.PerfStatus, broker.ValidPerfStatus},
		{"power_limit", r.PowerLimit, broker.ValidPowerLimit},
		{"misc_enable", r.MiscEnable, broker.ValidMiscEnable},
		{"energy_status", r.EnergyStatus, broker.ValidEnergyStatus},
		{"power_unit", r.PowerUnit, broker.ValidPowerUnit},
	}
	for _, reg := range regs {
		label.Fprintf(out, "%-13s ", reg.name)
		if r.Valid&reg.bit == 0 {
			fmt.Fprintln(out, "-")
			continue
		}
		fmt.Fprintf(out, "%#016x\n", reg.value)
	}
	for _, d := range mailbox.Domains() {
		label.Fprintf(out, "%-13s ", d)
		if !r.DomainValid(d) {
			fmt.Fprintln(out, "-")
			continue
		}
		fmt.Fprintf(out, "%+.1f mV\n", mailbox.DecodeOffset(r.Domains[d]))
	}
}
