// Command flasher-stub runs the device side of the SLIP-framed flashing
// protocol: the same wire format the original firmware speaks, served as
// an ordinary Go process against a real serial port or an in-memory pipe.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bigbag/flasher-stub/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flasher-stub",
		Short: "Device-side flasher protocol stub",
		Long: `flasher-stub implements the device half of the SLIP-framed flashing
protocol: Sync, register access, the Begin/Data/End upload state machine
(raw, deflate-compressed, and RAM variants), MD5 verification, and
ACK-windowed flash reads.

It runs against a real serial port with a simulated or real SPI-NOR flash
backend, or self-tests against an in-process host driver with "bench".`,
	}

	config.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newServeCmd(), newBenchCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("flasher-stub %s\n", version)
			cmd.Printf("  commit: %s\n", commit)
			cmd.Printf("  built:  %s\n", date)
		},
	}
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
