// Copyright 2021 Molecula Corp. All rights reserved.
//
// Package main is the concurrency-demo binary: a small cobra/viper CLI
// that wires the concurrency Manager to an in-memory named-index store and
// a bbolt-backed journal, so the manager's admission/routing/locking/
// group-commit behavior can be driven and inspected end to end, the way
// the teacher's "server" and "bench" subcommands drive the rest of the
// codebase end to end (cmd/root.go, cmd/server.go).
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "concurrency-demo",
		Short: "Drive the concurrency manager against an in-memory store.",
		Long: `concurrency-demo runs the task-admission, routing, locking, and
group-commit orchestration subsystem against a toy named-index store and a
durable bbolt-backed journal, for exercising and observing the scheduling
regimes described in this repository's specification.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			return setAllConfig(v, cmd.Flags())
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from (TOML).")

	rc.AddCommand(newRunCommand(stdout, stderr))
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// setAllConfig binds flags, environment, and an optional TOML config file
// into v, in that priority order (flags highest), the same three-source
// merge cmd/root.go's setAllConfig performs for the teacher's own CLI.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix("CCMANAGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file %q: %w", c, err)
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		if value := v.GetString(f.Name); value != "" {
			flagErr = f.Value.Set(value)
		}
	})
	return flagErr
}

func main() {
	rc := newRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rc.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
