package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/bigbag/flasher-stub/internal/config"
	"github.com/bigbag/flasher-stub/internal/hal"
	"github.com/bigbag/flasher-stub/internal/stub"
	"github.com/bigbag/flasher-stub/internal/transport"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the protocol engine against a transport",
		Long: `serve opens the configured transport (a real serial port, or stdin/stdout
with --pipe-dev) and the configured hal.Target backend (an in-memory
simulator by default, or real SPI-NOR hardware with --backend=spi), sends
the OHAI greeting, and runs the command loop until the link closes.`,
		RunE: runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags(), nil)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	t, err := openTransport(cfg)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	defer t.Close()

	target, err := openTarget(cfg)
	if err != nil {
		return fmt.Errorf("open hal.Target backend: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"backend": cfg.Backend,
		"baud":    cfg.Baud,
	}).Info("serving flasher-stub protocol")

	engine := stub.New(t, target, log)
	if err := engine.SendGreeting(); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}

	err = engine.Run()
	if err != nil {
		log.WithError(err).Info("command loop ended")
	}
	return nil
}

func openTransport(cfg *config.Config) (transport.Transport, error) {
	if cfg.PipeDev {
		return transport.NewPipeTransport(os.Stdin, os.Stdout), nil
	}
	return transport.OpenSerial(cfg.Port, cfg.Baud)
}

func openTarget(cfg *config.Config) (hal.Target, error) {
	switch cfg.Backend {
	case config.BackendSim:
		if cfg.FlashImage != "" {
			return simFromImage(cfg.FlashImage)
		}
		return hal.NewSim(), nil
	case config.BackendSPI:
		return openSPITarget(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func simFromImage(path string) (*hal.Sim, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flash image %s: %w", path, err)
	}
	sim := hal.NewSim()
	if err := sim.ProgramFlash(0, data); err != nil {
		return nil, fmt.Errorf("load flash image into simulator: %w", err)
	}
	return sim, nil
}

func openSPITarget(cfg *config.Config) (*hal.SPITarget, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph.io host drivers: %w", err)
	}

	port, err := spireg.Open(cfg.SPIDevice)
	if err != nil {
		return nil, fmt.Errorf("open spi device %s: %w", cfg.SPIDevice, err)
	}
	conn, err := port.Connect(physic.MegaHertz*20, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("configure spi connection: %w", err)
	}

	cs := gpioreg.ByName(cfg.SPIChipSelect)
	if cs == nil {
		return nil, fmt.Errorf("gpio pin %s not found", cfg.SPIChipSelect)
	}

	regs, err := hal.OpenRegisterWindow(cfg.RegisterBase, cfg.RegisterSize)
	if err != nil {
		return nil, fmt.Errorf("open register window: %w", err)
	}

	return hal.NewSPITarget(conn, cs, regs), nil
}
