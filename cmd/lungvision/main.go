package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/lungvision/go-accounts/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	app := &App{}

	root := &cobra.Command{
		Use:           "lungvision",
		Short:         "LungVision account service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			app.config = cfg
			app.logger = glog.NewLogger(
				glog.WithLoggerTypePretty(),
				glog.WithLevel(glog.Trace),
				glog.WithName("lungvision"),
				glog.WithAddSource(false),
				glog.WithRichErrorHandler(errors.ToSlogAttributes),
			)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "path to the TOML configuration file")

	root.AddCommand(
		newServeCommand(app),
		newMigrateCommand(app),
		newCreateAdminCommand(app),
		newTestEmailCommand(app),
	)

	return root
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
