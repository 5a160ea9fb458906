package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Wale56/cubotino-bus-servo/feetech"
)

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the servo answers and print its model",
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

			return reportModel(ctx, cmd.OutOrStdout(), link.Servo())
		},
	}
}

// reportModel pings the servo and prints the model it reports. A servo that
// answers with an unregistered model number is not an error.
func reportModel(ctx context.Context, out io.Writer, servo *feetech.Servo) error {
	configured := servo.Model()
	number, err := servo.DetectModel(ctx)
	switch {
	case errors.Is(err, feetech.ErrUnknownModel):
		fmt.Fprintf(out, "Servo answered: unknown model number %d\n", number)
		return nil
	case err != nil:
		return fmt.Errorf("ping servo: %w", err)
	}

	detected := servo.Model()
	fmt.Fprintf(out, "Servo answered: %s (model number %d)\n", detected.Name, number)
	if detected.Name != configured.Name {
		fmt.Fprintf(out, "Configured model is %s; pass --model %s to match\n", configured.Name, detected.Name)
	}
	return nil
}
