// Package cmd implements commands for the yieldvault executable.
package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oasisprotocol/yieldvault/cmd/api"
	"github.com/oasisprotocol/yieldvault/log"
)

var rootCmd = &cobra.Command{
	Use:   "yieldvault",
	Short: "Yield vault engine",
}

// Execute spawns the main entry point after handing the config file.
func Execute() {
	// Debug hook. If we receive SIGUSR1, dump all goroutines.
	go dumpGoroutinesOnSignal(syscall.SIGUSR1)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	for _, f := range []func(*cobra.Command){
		api.Register,
	} {
		f(rootCmd)
	}
}

// Starts listening for the specified signals, and logs a dump of all
// goroutines when the process receives one of those signals.
func dumpGoroutinesOnSignal(signals ...os.Signal) {
	logger := log.NewDefaultLogger("toplevel")
	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)
	logger.Info("listening for signals", "signals", signals)
	for range c {
		b := bytes.NewBufferString("")
		_ = pprof.Lookup("goroutine").WriteTo(b, 1)
		logger.Warn("USER-REQUESTED DUMP: all goroutines", "goroutines_all", b.String())

		b = bytes.NewBufferString("")
		_ = pprof.Lookup("block").WriteTo(b, 1)
		logger.Warn("USER-REQUESTED DUMP: stack traces that led to blocking on synchronization primitives", "goroutines_block", b.String())

		b = bytes.NewBufferString("")
		_ = pprof.Lookup("mutex").WriteTo(b, 1)
		logger.Warn("USER-REQUESTED DUMP: stack traces of holders of contended mutexes", "goroutines_mutex", b.String())
	}
}
