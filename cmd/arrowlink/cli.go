package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/OCAP2/arrowlink/internal/config"
	"github.com/OCAP2/arrowlink/pkg/core"
)

var errUsage = errors.New("usage: arrowlink host|join [flags]")

type options struct {
	role      core.Role
	configDir string
	tui       bool
	flags     *pflag.FlagSet
}

// flagKeys maps command line flags onto config keys. A flag only wins over
// the config file when it is set explicitly.
var flagKeys = map[string]string{
	"addr":      "link.address",
	"transport": "link.transport",
	"status":    "status.address",
	"log-level": "logLevel",
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	if len(args) == 0 {
		return options{}, errUsage
	}
	role, err := core.ParseRole(args[0])
	if err != nil {
		return options{}, fmt.Errorf("%w: %w", errUsage, err)
	}

	fs := pflag.NewFlagSet("arrowlink "+args[0], pflag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := options{role: role, flags: fs}

	fs.StringVarP(&opts.configDir, "config", "c", ".", "directory holding "+config.FileName)
	fs.String("addr", "", "link address: listen address when hosting, peer address when joining")
	fs.String("transport", "", "link transport: tcp or ws")
	fs.String("status", "", "serve the status API on this address")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.BoolVar(&opts.tui, "tui", false, "show the terminal dashboard")

	if err := fs.Parse(args[1:]); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}
	return opts, nil
}

// bindFlags layers the explicitly set flags over the loaded configuration.
func (o options) bindFlags() error {
	for name, key := range flagKeys {
		if err := viper.BindPFlag(key, o.flags.Lookup(name)); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	if o.flags.Changed("status") {
		viper.Set("status.enabled", true)
	}
	viper.Set("link.role", o.role.String())
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	if err := config.Load(opts.configDir); err != nil && !config.IsNotFound(err) {
		return err
	}
	if err := opts.bindFlags(); err != nil {
		return err
	}

	a, err := newApp(opts, stdout)
	if err != nil {
		return err
	}
	defer a.close()

	return a.run(ctx)
}
