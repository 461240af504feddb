// Command hdlsim drives a generated simulation module from the command
// line: powercycle it, tick it some number of times, inspect state, and
// optionally drop into an interactive front panel. Grounded on
// cmd/run/main.go's flag-based structure; where that CLI decodes and
// calls into an arbitrary compiled component, this one elaborates one of
// the examples package's hand-authored IR modules, since there is no HDL
// frontend in this module to parse external source from.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/tinytapeout/hdlwasm/examples"
	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/runtime"
)

var modules = map[string]func() *ir.ModuleDef{
	"counter65": examples.Counter65,
}

func main() {
	var (
		moduleName  = flag.String("module", "counter65", "IR module to simulate ("+strings.Join(moduleNames(), ", ")+")")
		ticks       = flag.Uint("ticks", 0, "number of Tick() calls to run after powercycle")
		tick2       = flag.Uint("tick2", 0, "iters to pass to a single Tick2() call after ticks")
		dumpWasm    = flag.String("dump-wasm", "", "write the generated module's WASM binary to this path and exit")
		jsonLogs    = flag.Bool("json-logs", false, "use a production JSON log encoder instead of the development console one")
		interactive = flag.Bool("i", false, "interactive front-panel mode")
	)
	flag.Parse()

	log, err := buildLogger(*jsonLogs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	build, ok := modules[*moduleName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown module %q; available: %s\n", *moduleName, strings.Join(moduleNames(), ", "))
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(build(), log); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(build(), *ticks, *tick2, *dumpWasm, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(mod *ir.ModuleDef, ticks, tick2 uint, dumpWasm string, log *zap.Logger) error {
	ctx := context.Background()

	core, err := runtime.New(mod, nil, runtime.Options{Logger: log})
	if err != nil {
		return fmt.Errorf("new: %w", err)
	}
	if err := core.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer core.Dispose(ctx)

	if dumpWasm != "" {
		if err := os.WriteFile(dumpWasm, core.Result().Module.Encode(), 0o644); err != nil {
			return fmt.Errorf("dump-wasm: %w", err)
		}
		fmt.Printf("Wrote %s\n", dumpWasm)
		return nil
	}

	fmt.Printf("Module: %s\n", mod.Name)
	if err := core.Powercycle(ctx); err != nil {
		return fmt.Errorf("powercycle: %w", err)
	}
	fmt.Println("Powercycled.")

	for i := uint(0); i < ticks; i++ {
		if err := core.Tick(ctx); err != nil {
			return fmt.Errorf("tick %d: %w", i, err)
		}
	}
	if tick2 > 0 {
		if err := core.Tick2(ctx, uint32(tick2)); err != nil {
			return fmt.Errorf("tick2: %w", err)
		}
	}

	printState(core, mod)

	if core.IsFinished() {
		fmt.Println("$finish was raised.")
	}
	if core.IsStopped() {
		fmt.Println("$stop was raised.")
	}
	if n := core.LoopTimeouts(); n > 0 {
		fmt.Printf("%d bounded-loop guard(s) present in this module.\n", n)
	}
	return nil
}

func printState(core *runtime.Core, mod *ir.ModuleDef) {
	fmt.Println("\nState:")
	for _, name := range mod.VarOrder {
		v, err := core.State().Get(name)
		if err != nil {
			continue
		}
		fmt.Printf("  %-16s %s\n", name, formatValue(v))
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case []byte:
		return fmt.Sprintf("% x", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func moduleNames() []string {
	names := make([]string, 0, len(modules))
	for n := range modules {
		names = append(names, n)
	}
	return names
}

func buildLogger(jsonLogs bool) (*zap.Logger, error) {
	if jsonLogs {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
