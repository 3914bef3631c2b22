package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/azargarov/conductor/internal/config"
)

// app carries the loaded configuration to the subcommands.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config

	binds []flagBinding
}

// flagBinding maps a command flag onto a config key.
type flagBinding struct {
	cmd  *cobra.Command
	flag string
	key  string
}

func (a *app) bind(cmd *cobra.Command, flag, key string) {
	a.binds = append(a.binds, flagBinding{cmd: cmd, flag: flag, key: key})
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "conductor",
		Short: "Route A/B tasks from clients to kind-specialised workers",
		Long: `conductor accepts tasks of kind A or B from clients and hands them to
workers that are fast on their own kind and slow on the other. A worker of
the other kind is used only when the backlog is long and homogeneous.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (YAML)")

	root.AddCommand(
		newServeCmd(a),
		newWorkerCmd(a),
		newClientCmd(a),
		newSimulateCmd(a),
		newConfigCmd(a),
	)
	return root
}

// load reads defaults, the config file and the environment, then the
// flags of the command being run.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	v, err := config.New(a.cfgFile)
	if err != nil {
		return err
	}
	for _, b := range a.binds {
		if b.cmd != cmd {
			continue
		}
		if err := v.BindPFlag(b.key, cmd.Flags().Lookup(b.flag)); err != nil {
			return err
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.v, a.cfg = v, cfg
	return nil
}
