package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ticket-payments/internal/gateway"
	"ticket-payments/security"
)

type bankLister interface {
	ListBanks(ctx context.Context) ([]gateway.Bank, error)
}

type accountLookup interface {
	ResolveAccountNumber(ctx context.Context, accountNumber, bankCode string) (*gateway.ResolvedAccount, error)
}

func newBanksCommand(gw bankLister) *cobra.Command {
	return &cobra.Command{
		Use:   "banks",
		Short: "List banks that can receive withdrawals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			banks, err := gw.ListBanks(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME")
			for _, b := range banks {
				fmt.Fprintf(w, "%s\t%s\n", b.Code, b.Name)
			}
			return w.Flush()
		},
	}
}

func newResolveAccountCommand(gw accountLookup) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-account <accountNumber> <bankCode>",
		Short: "Look up the holder name of a bank account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := gw.ResolveAccountNumber(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", acct.BankCode, acct.AccountNumber, acct.AccountName)
			return nil
		},
	}
}

// newHashKeyCommand prints the OPERATOR_KEY_HASH value for a key.
func newHashKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-operator-key <key>",
		Short: "Hash an operator key for OPERATOR_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := security.HashOperatorKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
