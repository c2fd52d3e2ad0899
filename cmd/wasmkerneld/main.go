// wasmkerneld runs a wasmkernel System: it fetches the module hashes named
// on the command line directly from the configured loader sources (not
// through the reserved "loader" interface), executes them, and drives the
// System's event loop until interrupted.
//
// Usage:
//
//	wasmkerneld [options] <module-hash> [module-hash ...]
//
// Options:
//
//	-modules   Directory of hash-named .wasm files served by loader.LocalSource
//	-advertise Parsed but unused: this binary advertises nothing over mDNS
//	-verbose   Enable debug-level logging
//
// Example:
//
//	wasmkerneld -modules ./modules a3f5e1...
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/wasmkernel/pkg/loader"
	"github.com/backkem/wasmkernel/pkg/system"
	"github.com/backkem/wasmkernel/pkg/vm/fake"
	"github.com/backkem/wasmkernel/pkg/wasmsig"
	"github.com/pion/logging"
)

// options holds the standard CLI flags for the kernel binary.
type options struct {
	ModulesDir string
	Advertise  bool
	Verbose    bool
	SelfTest   bool
}

func parseFlags() (options, []string) {
	o := options{}
	flag.StringVar(&o.ModulesDir, "modules", "", "directory of hash-named .wasm files (empty = network source only)")
	flag.BoolVar(&o.Advertise, "advertise", false, "accepted but unused; nothing is advertised over mDNS")
	flag.BoolVar(&o.Verbose, "verbose", false, "enable debug-level logging")
	flag.BoolVar(&o.SelfTest, "selftest", false, "run the Echo self-test alongside the configured programs")
	flag.Parse()
	return o, flag.Args()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <module-hash> [module-hash ...]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
}

func main() {
	opts, hashes := parseFlags()
	if len(hashes) == 0 && !opts.SelfTest {
		printUsage()
		os.Exit(2)
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	if opts.Verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	} else {
		loggerFactory.DefaultLogLevel = logging.LogLevelInfo
	}
	log := loggerFactory.NewLogger("wasmkerneld")

	var sources []loader.Source
	if opts.ModulesDir != "" {
		sources = append(sources, loader.NewLocalSource(opts.ModulesDir))
	}
	netSource, err := loader.NewNetworkSource()
	if err != nil {
		log.Warnf("network loader source unavailable: %v", err)
	} else {
		sources = append(sources, netSource)
	}

	// The WebAssembly execution engine is an external collaborator this
	// repository only consumes (pkg/vm.Engine); it ships no production
	// implementation of its own. wasmkerneld drives the in-memory reference
	// engine, whose Instantiate always returns an error, so executing any
	// module hash fails and only the -selftest path runs. Wiring a real engine
	// (e.g. backed by a WebAssembly runtime) is the integration point for a
	// production deployment and only requires supplying a different
	// vm.Engine to system.Config.
	engine := fake.NewEngine()

	sys, err := system.NewSystem(system.Config{
		Engine:        engine,
		Sources:       sources,
		RunSelfTest:   opts.SelfTest,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Errorf("failed to start system: %v", err)
		os.Exit(1)
	}

	for _, h := range hashes {
		hash, err := loader.ParseHash(h)
		if err != nil {
			log.Errorf("invalid module hash %q: %v", h, err)
			os.Exit(1)
		}
		bytes, err := fetchModule(sources, hash)
		if err != nil {
			log.Errorf("failed to load module %q: %v", h, err)
			os.Exit(1)
		}
		pid, err := sys.Execute(wasmsig.NewModule(bytes, hash))
		if err != nil {
			log.Errorf("failed to execute module %q: %v", h, err)
			os.Exit(1)
		}
		log.Infof("started process %d from module %s", pid, h)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infof("wasmkerneld running, press Ctrl+C to stop")
	if err := sys.Run(ctx); err != nil {
		log.Errorf("system error: %v", err)
		os.Exit(1)
	}
	log.Infof("shutting down")
}

func fetchModule(sources []loader.Source, hash loader.Hash) ([]byte, error) {
	var lastErr error
	for _, src := range sources {
		bytes, err := src.Fetch(hash)
		if err == nil {
			return bytes, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no loader sources configured")
	}
	return nil, lastErr
}

func init() {
	// Drop the stdlib log package's date/time prefix. Nothing in this
	// binary writes through the stdlib logger; flag parse errors are
	// printed by the flag package itself.
	log.SetFlags(0)
}
