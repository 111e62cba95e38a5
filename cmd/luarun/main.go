package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/config"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/value"
)

type options struct {
	configPath  string
	envPath     string
	code        string
	args        []string
	timeout     time.Duration
	wasm        bool
	interactive bool
	verbose     bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Path to a YAML config file")
	flag.StringVar(&o.envPath, "env", ".env", "Path to a .env file (ignored when missing)")
	flag.StringVar(&o.code, "e", "", "Lua code to execute")
	flag.DurationVar(&o.timeout, "timeout", 0, "Execution limit per call (default from config, else 1s)")
	flag.BoolVar(&o.wasm, "wasm", false, "Enable the wasm Lua module")
	flag.BoolVar(&o.interactive, "i", false, "Interactive mode with TUI")
	flag.BoolVar(&o.verbose, "v", false, "Verbose logging")
	flag.Usage = usage
	flag.Parse()
	o.args = flag.Args()

	tty := term.IsTerminal(int(os.Stdin.Fd()))
	if o.code == "" && len(o.args) == 0 && tty {
		o.interactive = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: luarun [flags] <script.lua> [args...]")
	fmt.Fprintln(os.Stderr, "       luarun [flags] -e <code> [args...]")
	fmt.Fprintln(os.Stderr, "       luarun [flags] -i  (interactive mode)")
	fmt.Fprintln(os.Stderr, "       luarun [flags] < script.lua")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func run(ctx context.Context, o options, stdin io.Reader, stdout io.Writer) error {
	log := zap.NewNop()
	if o.verbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer func() { _ = log.Sync() }()
	}
	bridge.SetLogger(log)
	engine.SetLogger(log)

	if err := config.LoadDotEnv(o.envPath); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	var cfg config.Config
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(o.configPath); err != nil {
			return err
		}
	}

	opts := []bridge.Option{bridge.WithLogger(log)}
	if o.timeout > 0 {
		opts = append(opts, bridge.WithTimeout(o.timeout))
	}
	if o.wasm {
		opts = append(opts, bridge.WithWASM(true))
	}

	if o.interactive {
		return runInteractive(ctx, cfg, opts)
	}

	b, err := cfg.Create(ctx, opts...)
	if err != nil {
		return err
	}
	defer b.Close()

	out, err := execute(ctx, b, o, stdin)
	if err != nil {
		return err
	}
	if len(out) > 0 {
		fmt.Fprintln(stdout, formatResults(out))
	}
	return nil
}

// execute runs -e code, a script file or stdin, in that order of preference.
func execute(ctx context.Context, b *bridge.Bridge, o options, stdin io.Reader) ([]value.Value, error) {
	switch {
	case o.code != "":
		return b.Execute(ctx, o.code, stringArgs(o.args)...)

	case len(o.args) > 0:
		script := o.args[0]
		data, err := os.ReadFile(script)
		if err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}
		name := path.Base(filepath.ToSlash(script))
		if err := b.MountFile(ctx, name, string(data)); err != nil {
			return nil, err
		}
		return b.ExecuteFile(ctx, name, stringArgs(o.args[1:])...)

	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return b.Execute(ctx, string(data))
	}
}

func stringArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

// formatResults renders results tab-separated, the way print does.
func formatResults(out []value.Value) string {
	parts := make([]string, len(out))
	for i, v := range out {
		parts[i] = v.String()
	}
	return strings.Join(parts, "\t")
}
