package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// runAsk sends one message from the command line through the same credit
// gate and completion client the server uses.
func runAsk(cmd *cobra.Command, args []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.close(context.WithoutCancel(ctx)))
	}()

	out := cmd.OutOrStdout()
	conv := a.sessions.Resolve(a.cfg.CustomerID)
	for fragment, err := range conv.StreamMessage(ctx, args[0]) {
		if err != nil {
			fmt.Fprintln(out)
			return err
		}
		fmt.Fprint(out, fragment)
	}
	fmt.Fprintln(out)
	return nil
}
