package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"ijscript/client"
	"ijscript/internal/config"
	"ijscript/internal/engine"
	"ijscript/internal/logging"
	"ijscript/internal/spec"
	"ijscript/ndarray"

	"github.com/spf13/cobra"
)

// exitRemote is the exit status when the script raised on the server.
const exitRemote = 2

var (
	cfg config.Client

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagAddress        string
	flagTimeout        string
	flagJSON           bool

	run runFlags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) int {
	root := newRootCmd(stdin, stdout)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	var remote *client.RemoteException
	switch {
	case err == nil:
		return 0
	case errors.As(err, &remote):
		slog.Error("script failed", "exception", remote.Message)
		return exitRemote
	default:
		slog.Error("ijscript failed", "err", err)
		return 1
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:               "ijscript",
		Short:             "Run SciJava scripts on a remote ImageJ server",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initClient,
	}
	root.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "client config file (YAML); IJSCRIPT__* env vars override it")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	root.PersistentFlags().StringVar(&flagAddress, "address", "", "server endpoint, e.g. tcp://localhost:12345")
	root.PersistentFlags().StringVar(&flagTimeout, "timeout", "", "per-run timeout, e.g. 90s; negative disables it")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "print outputs as JSON")

	runCmd := &cobra.Command{
		Use:   "run <script-file|->",
		Short: "run a script file, or stdin with -",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, name, err := readScript(args[0], stdin)
			if err != nil {
				return err
			}
			job, err := run.job(body, name, cmd.Flags().Changed("headless"))
			if err != nil {
				return err
			}
			return runJob(cmd, job, stdout)
		},
	}
	f := runCmd.Flags()
	f.StringVar(&run.name, "name", "", "script name; its extension selects the language (default: file name)")
	f.StringArrayVar(&run.params, "param", nil, "scalar input as name:Type=value (repeatable)")
	f.StringArrayVar(&run.images, "image", nil, "image input as name=path (repeatable)")
	f.StringArrayVar(&run.outputs, "output", nil, "declared output as name:Type (repeatable)")
	f.StringArrayVar(&run.saves, "save", nil, "save image output as name=path (repeatable)")
	f.BoolVar(&run.headless, "headless", false, "run the script headless")
	f.StringVar(&run.axes, "axes", "", "axis order for image inputs (default from config)")
	f.IntVar(&run.timeout, "timeout-ms", 0, "timeout for this run in milliseconds")

	jobCmd := &cobra.Command{
		Use:   "job <file.yml>",
		Short: "run a YAML job file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := config.LoadJob(args[0])
			if err != nil {
				return err
			}
			return runJob(cmd, job, stdout)
		},
	}

	versionCmd := &cobra.Command{
		Use:               "version",
		Short:             "print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(stdout)
		},
	}

	root.AddCommand(runCmd, jobCmd, versionCmd)
	return root
}

func initClient(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.LoadClient(flagConfigFilePath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// flags have a precedence over config file and env
	if flagAddress != "" {
		cfg.Address = flagAddress
	}
	if flagTimeout != "" {
		d, err := parseTimeout(flagTimeout)
		if err != nil {
			return err
		}
		cfg.Timeout = d
	}
	if flagVerbose {
		cfg.Log.Level = "debug"
	}

	logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	slog.SetDefault(logging.L())
	slog.Debug("ijscript", "config", flagConfigFilePath, "address", cfg.Address, "timeout", cfg.Timeout)
	return nil
}

func runJob(cmd *cobra.Command, job spec.Job, stdout io.Writer) error {
	ctx := cmd.Context()
	e, err := engine.Bootstrap(ctx, cfg, client.WithDiagnostics(os.Stderr))
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			slog.Warn("closing", "err", err)
		}
	}()

	res, err := e.RunJob(ctx, job)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	return printResult(stdout, res, flagJSON)
}

// printResult writes one "key: value" line per output, or a JSON object.
// Images are summarised by dtype and shape.
func printResult(w io.Writer, res *client.Result, asJSON bool) error {
	vals := map[string]any{}
	for _, k := range res.Keys() {
		v, ok := res.Value(k)
		if !ok {
			vals[k] = nil
			continue
		}
		if a, isArr := v.(*ndarray.Array); isArr {
			v = map[string]any{"dtype": a.DType().String(), "shape": a.Shape()}
		}
		vals[k] = v
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(vals)
	}
	for _, k := range res.Keys() {
		v, _ := res.Value(k)
		if v == nil {
			fmt.Fprintf(w, "%s: null\n", k)
			continue
		}
		fmt.Fprintf(w, "%s: %v\n", k, v)
	}
	return nil
}

func printVersion(w io.Writer) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		fmt.Fprintln(w, "ijscript: version info not available")
		return
	}
	fmt.Fprintf(w, "ijscript: %s\n", info.Main.Version)
	fmt.Fprintf(w, "go:       %s\n", info.GoVersion)
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			fmt.Fprintf(w, "commit:   %s\n", s.Value)
		case "vcs.time":
			fmt.Fprintf(w, "date:     %s\n", s.Value)
		case "vcs.modified":
			fmt.Fprintf(w, "dirty:    %s\n", s.Value)
		}
	}
}
