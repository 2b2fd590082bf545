package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBalanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show remaining creation credits",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			balance, err := c.Balance(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Free saves left: %d\n", balance.FreeRemaining)
			fmt.Fprintf(out, "Paid credits:    %d\n", balance.PaidCredits)
			fmt.Fprintf(out, "Total available: %d\n", balance.TotalAvailable)
			return nil
		},
	}
}
