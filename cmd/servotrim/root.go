package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Wale56/cubotino-bus-servo/internal/config"
	"github.com/Wale56/cubotino-bus-servo/internal/console"
	"github.com/Wale56/cubotino-bus-servo/internal/logging"
	"github.com/Wale56/cubotino-bus-servo/trim"
)

func newRootCmd() *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "servotrim",
		Short: "Trim a Feetech bus servo between two positions",
		Long: `servotrim enables torque on one servo, asks for a speed and two positions,
then moves the servo between them on command and reports whether each move
settles within tolerance. Torque is released on exit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTrim,
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String("port", def.Port, "serial device of the servo bus")
	pf.Int("baud", def.BaudRate, "bus baud rate")
	pf.Int("id", def.ServoID, "servo bus address")
	pf.String("protocol", def.Protocol, "servo protocol: scs or sts")
	pf.String("model", def.Model, "servo model (default depends on protocol)")
	pf.String("log-level", def.LogLevel, "log level: debug, info, warn or error")

	f := cmd.Flags()
	f.Int("tolerance", def.Wait.Tolerance, "allowed distance from the target position")
	f.Duration("max-wait", def.Wait.MaxWait, "how long to wait for a move to settle")
	f.Duration("poll-interval", def.Wait.PollInterval, "pause between position reads")
	f.Bool("progress", def.Progress, "print every position read while waiting")

	cmd.AddCommand(newPositionCmd(), newPingCmd())
	return cmd
}

// loadConfig layers explicitly set flags over the config file over the defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}

	if flags.Changed("port") {
		cfg.Port, _ = flags.GetString("port")
	}
	if flags.Changed("baud") {
		cfg.BaudRate, _ = flags.GetInt("baud")
	}
	if flags.Changed("id") {
		cfg.ServoID, _ = flags.GetInt("id")
	}
	if flags.Changed("protocol") {
		cfg.Protocol, _ = flags.GetString("protocol")
	}
	if flags.Changed("model") {
		cfg.Model, _ = flags.GetString("model")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("tolerance") {
		cfg.Wait.Tolerance, _ = flags.GetInt("tolerance")
	}
	if flags.Changed("max-wait") {
		cfg.Wait.MaxWait, _ = flags.GetDuration("max-wait")
	}
	if flags.Changed("poll-interval") {
		cfg.Wait.PollInterval, _ = flags.GetDuration("poll-interval")
	}
	if flags.Changed("progress") {
		cfg.Progress, _ = flags.GetBool("progress")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openLink builds the validated config, the logger and an unopened link.
func openLink(cmd *cobra.Command) (config.Config, *zap.SugaredLogger, *trim.BusLink, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cfg, nil, nil, err
	}

	logger, err := logging.New("servotrim", cfg.LogLevel)
	if err != nil {
		return cfg, nil, nil, err
	}

	busCfg, err := cfg.BusConfig()
	if err != nil {
		return cfg, nil, nil, err
	}
	model, err := cfg.ServoModel()
	if err != nil {
		return cfg, nil, nil, err
	}

	logger.Debugw("configuration", "port", cfg.Port, "baud", cfg.BaudRate, "servo", cfg.ServoID,
		"protocol", cfg.Protocol, "model", model.Name)
	return cfg, logger, trim.NewBusLink(busCfg, cfg.ServoID, model, logger.Named("link")), nil
}

func runTrim(cmd *cobra.Command, _ []string) error {
	cfg, logger, link, err := openLink(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	in, out, closeConsole, err := openConsole(cmd)
	if err != nil {
		return err
	}
	defer closeConsole()

	session := trim.NewSession(link, in,
		trim.WithLogger(logger.Named("session")),
		trim.WithOutput(out),
		trim.WithWaitConfig(cfg.WaitConfig()),
		trim.WithLimits(cfg.TrimLimits()),
		trim.WithProgress(cfg.Progress),
	)
	return session.Run(cmd.Context())
}

// openConsole uses a line editor on a terminal and a plain reader otherwise.
func openConsole(cmd *cobra.Command) (trim.Console, io.Writer, func() error, error) {
	in, out := cmd.InOrStdin(), cmd.OutOrStdout()

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		rl, err := console.NewReadline()
		if err != nil {
			return nil, nil, nil, err
		}
		return rl, rl.Stdout(), rl.Close, nil
	}

	return console.NewReader(in, out), out, func() error { return nil }, nil
}
