package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/livebook-dev/pythonx"
	"github.com/livebook-dev/pythonx/engine"
	"github.com/livebook-dev/pythonx/runtime"
)

func main() {
	var (
		libFile     = flag.String("lib", "", "Path to interpreter artifact (wasm)")
		code        = flag.String("c", "", "Code to evaluate")
		scriptFile  = flag.String("file", "", "Script file to evaluate")
		home        = flag.String("home", "", "Interpreter home directory")
		workers     = flag.Int("workers", 0, "Scheduler pool size (0 = default)")
		memPages    = flag.Uint("mem", 0, "Interpreter memory limit in 64KB pages (0 = unlimited)")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *libFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: pyx -lib <interpreter.wasm> -c <code>")
		fmt.Fprintln(os.Stderr, "       pyx -lib <interpreter.wasm> -file <script.py>")
		fmt.Fprintln(os.Stderr, "       pyx -lib <interpreter.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *verbose {
		dev, err := zap.NewDevelopment()
		if err == nil {
			logger = dev
			engine.SetLogger(dev)
		}
	}

	cfg := runtime.Config{
		LibraryPath:      *libFile,
		PythonHome:       *home,
		Workers:          *workers,
		MemoryLimitPages: uint32(*memPages),
		Logger:           logger,
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	source := *code
	if source == "" && *scriptFile != "" {
		data, err := os.ReadFile(*scriptFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		source = string(data)
	}
	if source == "" {
		fmt.Fprintln(os.Stderr, "Error: nothing to evaluate, use -c or -file")
		os.Exit(1)
	}

	if err := run(cfg, source); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg runtime.Config, source string) error {
	ctx := context.Background()

	rt, err := runtime.Init(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	result, err := rt.Eval(ctx, source, runtime.EvalOptions{
		Stdout: pythonx.WriterDevice(os.Stdout),
		Stderr: pythonx.WriterDevice(os.Stderr),
	})
	if err != nil {
		var pyErr *runtime.PyErr
		if errors.As(err, &pyErr) && pyErr.Traceback != "" {
			fmt.Fprint(os.Stderr, pyErr.Traceback)
			if !strings.HasSuffix(pyErr.Traceback, "\n") {
				fmt.Fprintln(os.Stderr)
			}
			os.Exit(1)
		}
		return err
	}
	defer result.Release()

	if result.Value != nil {
		repr, reprErr := result.Value.Repr()
		if reprErr != nil {
			return reprErr
		}
		fmt.Println(repr)
	}
	return nil
}
