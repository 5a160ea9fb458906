package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newPositionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "position",
		Short: "Print the current position and torque state of the servo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			_, logger, link, err := openLink(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			if err := link.Open(ctx); err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, link.Close()) }()

			pos, err := link.ReadPosition(ctx)
			if err != nil {
				return fmt.Errorf("read position: %w", err)
			}
			torque, err := link.Servo().TorqueEnabled(ctx)
			if err != nil {
				return fmt.Errorf("read torque state: %w", err)
			}

			state := "off"
			if torque {
				state = "on"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Position: %d\n", pos)
			fmt.Fprintf(out, "Torque: %s\n", state)
			return nil
		},
	}
}
