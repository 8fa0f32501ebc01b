package main

import (
	"crypto/md5"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/flasher-stub/internal/hal"
	"github.com/bigbag/flasher-stub/internal/hostsim"
	"github.com/bigbag/flasher-stub/internal/stub"
	"github.com/bigbag/flasher-stub/internal/transport"
)

func newBenchCmd() *cobra.Command {
	var sizeMB int
	var compressed bool

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Self-test: flash a synthetic image against an in-process engine",
		Long: `bench wires a stub.Engine to an in-process host driver (internal/hostsim)
over a pipe and flashes a synthetic image of the requested size, showing
progress and verifying the result by MD5 — a sanity check that a build
works correctly without any hardware attached.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, sizeMB, compressed)
		},
	}
	cmd.Flags().IntVar(&sizeMB, "size-mb", 1, "size of the synthetic image to flash, in MiB")
	cmd.Flags().BoolVar(&compressed, "compressed", true, "upload via FlashDeflBegin/Data/End instead of raw Flash")
	return cmd
}

func runBench(cmd *cobra.Command, sizeMB int, compressed bool) error {
	hostToDevR, hostToDevW := io.Pipe()
	devToHostR, devToHostW := io.Pipe()
	defer hostToDevW.Close()
	defer devToHostW.Close()

	sim := hal.NewSim()
	engine := stub.New(transport.NewPipeTransport(hostToDevR, devToHostW), sim, nil)
	go func() { _ = engine.Run() }()

	client := hostsim.NewClient(transport.NewPipeTransport(devToHostR, hostToDevW))
	if err := client.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	size := sizeMB * 1024 * 1024
	data := syntheticImage(size)

	bar := progressbar.NewOptions(1,
		progressbar.OptionSetDescription(fmt.Sprintf("Flashing %d MiB", sizeMB)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	client.SetProgressCallback(func(current, total int) {
		bar.ChangeMax(total)
		bar.Set(current)
	})

	const address = 0x10000
	var err error
	if compressed {
		err = client.FlashImageCompressed(data, address, false)
	} else {
		err = client.FlashImage(data, address, false)
	}
	if err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	bar.Finish()

	digest, err := client.SPIFlashMD5(address, uint32(len(data)))
	if err != nil {
		return fmt.Errorf("md5 verify: %w", err)
	}
	want := md5.Sum(data)
	if digest != want {
		return fmt.Errorf("verification failed: device reports %x, expected %x", digest, want)
	}

	cmd.Printf("\nOK: %d bytes flashed and verified (md5 %x)\n", len(data), digest)
	return nil
}

// syntheticImage builds a deterministic, compressible test payload so
// --compressed has something worth compressing.
func syntheticImage(size int) []byte {
	data := make([]byte, size)
	pattern := []byte("flasher-stub bench payload ")
	for i := range data {
		data[i] = pattern[i%len(pattern)]
	}
	return data
}
