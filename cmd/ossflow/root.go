package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// globalFlags are shared by every subcommand. Flags given on the command line win over the file.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	httpAddr   string
}

func (g *globalFlags) bind(f *pflag.FlagSet) {
	f.StringVarP(&g.configPath, "config", "c", "", "path to the YAML configuration file")
	f.StringVar(&g.logLevel, "log-level", "", "log level [ trace, debug, info, warn, error ]")
	f.StringVar(&g.logFormat, "log-format", "", "log output format [ json, console ]")
	f.StringVar(&g.httpAddr, "http-addr", "", "address of the health and metrics server")
}

// load reads the configuration and applies explicitly set flags on top of it.
func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = g.logFormat
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = g.httpAddr
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "ossflow",
		Short:         "move records between object storage and downstream systems",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	g.bind(root.PersistentFlags())

	root.AddCommand(
		ingestCommand(g),
		egressCommand(g),
		notifyCommand(g),
	)
	return root
}

// newLogger writes to stderr so stdout stays free for the stdout sink.
func newLogger(level, format string, out io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if out == nil {
		out = os.Stderr
	}
	switch format {
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "", "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "ossflow").Logger(), nil
}
