package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/namefeed/internal/mockdevice"
)

var mockFlags struct {
	addr     string
	lines    []string
	file     string
	chunk    int
	delay    time.Duration
	keepOpen bool
	repeat   bool
}

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run a mock device that plays back a list of names",
	Example: `  namefeed mock --line Name1 --line Name2 --line Name3
  namefeed mock --file names.txt --chunk 3 --delay 50ms --keep-open --repeat`,
	RunE: runMock,
}

func init() {
	f := mockCmd.Flags()
	f.StringVar(&mockFlags.addr, "addr", "127.0.0.1:9000", "listen address")
	f.StringArrayVar(&mockFlags.lines, "line", nil, "line to send, repeatable")
	f.StringVar(&mockFlags.file, "file", "", "send the lines of this file")
	f.IntVar(&mockFlags.chunk, "chunk", 0, "split writes into chunks of this many bytes")
	f.DurationVar(&mockFlags.delay, "delay", 0, "pause between writes")
	f.BoolVar(&mockFlags.keepOpen, "keep-open", false, "keep connections open after sending")
	f.BoolVar(&mockFlags.repeat, "repeat", false, "resend the lines until the client hangs up (needs --keep-open)")
	rootCmd.AddCommand(mockCmd)
}

func runMock(cmd *cobra.Command, args []string) error {
	lines := mockFlags.lines
	if mockFlags.file != "" {
		fromFile, err := readLines(mockFlags.file)
		if err != nil {
			return err
		}
		lines = append(lines, fromFile...)
	}
	if len(lines) == 0 {
		lines = []string{"Name1", "Name2", "Name3"}
	}

	srv, err := mockdevice.Start(mockdevice.Config{
		Addr:      mockFlags.addr,
		Lines:     lines,
		ChunkSize: mockFlags.chunk,
		Delay:     mockFlags.delay,
		KeepOpen:  mockFlags.keepOpen,
		Repeat:    mockFlags.repeat,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "mock device listening on %s\n", srv.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return srv.Close()
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
