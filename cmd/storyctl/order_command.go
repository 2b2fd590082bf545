package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/digkill/storybook/internal/fulfillment"
	"github.com/digkill/storybook/pkg/client"
)

func newOrderCommand(ctx *commandContext) *cobra.Command {
	orderCmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect book orders",
	}
	orderCmd.AddCommand(newOrderShowCommand(ctx))
	orderCmd.AddCommand(newOrderWaitCommand(ctx))
	return orderCmd
}

func newOrderShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-id>",
		Short: "Print the current order status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			c, err := ctx.client()
			if err != nil {
				return err
			}
			order, err := c.Order(cmd.Context(), orderID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Order:  %s\n", order.ID)
			fmt.Fprintf(out, "Type:   %s\n", order.OrderType)
			fmt.Fprintf(out, "Status: %s\n", order.Status)
			if order.DownloadURL != "" {
				fmt.Fprintf(out, "Download: %s\n", order.DownloadURL)
			}
			return nil
		},
	}
}

func newOrderWaitCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration
	var attempts int

	cmd := &cobra.Command{
		Use:   "wait <order-id>",
		Short: "Wait for an ebook download to become available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			c, err := ctx.client()
			if err != nil {
				return err
			}
			return waitForDownload(cmd.Context(), c, orderID, interval, attempts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", fulfillment.DefaultInterval, "Delay between status checks")
	cmd.Flags().IntVar(&attempts, "attempts", fulfillment.DefaultMaxAttempts, "Checks before asking whether to keep waiting")
	return cmd
}

// waitForDownload drives a poller until the download is found. On timeout the
// user decides whether to start another round of checks.
func waitForDownload(ctx context.Context, c *client.Client, orderID uuid.UUID, interval time.Duration, attempts int, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snaps := make(chan fulfillment.Snapshot, 4)
	poller := fulfillment.New(c, orderID,
		fulfillment.WithInterval(interval),
		fulfillment.WithMaxAttempts(attempts),
		fulfillment.WithOnChange(func(s fulfillment.Snapshot) {
			select {
			case snaps <- s:
			case <-ctx.Done():
			}
		}),
	)

	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	answers := bufio.NewReader(in)
	fmt.Fprintln(out, "Preparing your ebook...")
	for {
		select {
		case err := <-done:
			snap := poller.State()
			switch {
			case snap.State == fulfillment.StateFound:
				fmt.Fprintf(out, "Your ebook is ready: %s\n", snap.DownloadURL)
				return nil
			case errors.Is(err, fulfillment.ErrOrderCancelled):
				return errors.New("the order was cancelled")
			case errors.Is(err, fulfillment.ErrNotEbook):
				return errors.New("printed books are shipped, there is no download to wait for")
			default:
				return err
			}
		case snap := <-snaps:
			switch snap.State {
			case fulfillment.StatePolling:
				if snap.Attempts > 0 && snap.Status != "" {
					fmt.Fprintf(out, "  status: %s (check %d)\n", snap.Status, snap.Attempts)
				}
			case fulfillment.StateTimedOut:
				fmt.Fprint(out, "Still preparing your book. Keep waiting? [y/N] ")
				if !confirmed(answers) {
					cancel()
					<-done
					return fmt.Errorf("stopped waiting after %d checks; run `storyctl order wait %s` to resume", snap.Attempts, orderID)
				}
				poller.Retry()
			}
		}
	}
}

func confirmed(r *bufio.Reader) bool {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
