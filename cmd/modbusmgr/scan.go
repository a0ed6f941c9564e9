package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"modbusmgr/internal/adapter"
	"modbusmgr/internal/config"
	"modbusmgr/internal/domain"
	"modbusmgr/internal/logger"
)

var (
	scanTarget string
	scanRaw    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one discovery probe and print the observed peripherals",
	Long: `Runs the probe and the output parser once and prints the observations
as YAML. Nothing is sent to the registry.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanTarget, "target", "t", "", "CIDR range or address, overrides scan.target")
	scanCmd.Flags().BoolVar(&scanRaw, "raw", false, "print the raw probe output instead")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if scanTarget != "" {
		cfg.Scan.Target = scanTarget
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := cfg.ValidateScan(); err != nil {
		return err
	}

	target := strings.Join(cfg.Targets(), ",")
	if target == "" {
		if target, err = adapter.DefaultGateway(); err != nil {
			return fmt.Errorf("resolve scan target: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raw, err := newProber(cfg).Run(ctx, target)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scanRaw {
		_, err = out.Write(raw)
		return err
	}

	resolver := domain.NewResolver(cfg.Reconcile.IncludeUnitID)
	observations := adapter.NewParser(resolver, logger.WithComponent("parser")).Parse(raw)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(scanReport{Target: target, Count: len(observations), Peripherals: observations})
}

type scanReport struct {
	Target      string               `yaml:"target"`
	Count       int                  `yaml:"count"`
	Peripherals []domain.Observation `yaml:"peripherals"`
}

func newProber(cfg *config.Config) *adapter.NmapProber {
	opts := []adapter.NmapOption{
		adapter.WithTimeout(cfg.Scan.Timeout.Duration()),
		adapter.WithScript(cfg.Scan.Script, cfg.Scan.ScriptArgs),
		adapter.WithBinaryPath(cfg.Scan.NmapPath),
		adapter.WithSkipHostDiscovery(cfg.Scan.SkipHostDiscovery),
		adapter.WithLogger(logger.WithComponent("probe")),
	}
	if cfg.Scan.Ports == config.AllPorts {
		opts = append(opts, adapter.WithAllPorts())
	} else {
		opts = append(opts, adapter.WithPortRange(cfg.Scan.Ports))
	}
	return adapter.NewNmapProber(opts...)
}

// checkProber fails fast when nmap cannot be executed at all
func checkProber(ctx context.Context, p *adapter.NmapProber) error {
	if err := p.Check(ctx); err != nil {
		return fmt.Errorf("%s is not usable: %w", p.Name(), err)
	}
	return nil
}
