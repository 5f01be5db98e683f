package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and adjust token balances",
}

// withLedger runs fn with a ledger and the --user flag.
func withLedger(fn func(cmd *cobra.Command, l *ledger.Ledger, user string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		user, err := userFlag(cmd)
		if err != nil {
			return err
		}
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd, ledger.New(e.store, e.log), user)
	}
}

var ledgerBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show a user's token balance",
	RunE: withLedger(func(cmd *cobra.Command, l *ledger.Ledger, user string) error {
		bal, err := l.Balance(cmd.Context(), user)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d tokens\n", user, bal)
		return nil
	}),
}

func adjustCmd(use, short string, defType ielts.TransactionType, credit bool) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: withLedger(func(cmd *cobra.Command, l *ledger.Ledger, user string) error {
			amount, _ := cmd.Flags().GetInt64("amount")
			typ, _ := cmd.Flags().GetString("type")
			desc, _ := cmd.Flags().GetString("description")
			if amount <= 0 {
				return fmt.Errorf("--amount must be positive")
			}

			adjust := l.Debit
			if credit {
				adjust = l.Credit
			}
			bal, err := adjust(cmd.Context(), user, amount, ielts.TransactionType(strings.ToUpper(typ)), desc)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d tokens\n", user, bal)
			return nil
		}),
	}
	c.Flags().String("user", "", "User to adjust")
	c.Flags().Int64("amount", 0, "Number of tokens")
	c.Flags().String("type", string(defType), "Transaction type")
	c.Flags().String("description", "", "Ledger note")
	return c
}

var ledgerHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List a user's ledger transactions, newest first",
	RunE: withLedger(func(cmd *cobra.Command, l *ledger.Ledger, user string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		types, _ := cmd.Flags().GetStringSlice("type")

		f := ledger.Filter{Limit: limit, Offset: offset}
		for _, t := range types {
			f.Types = append(f.Types, ielts.TransactionType(strings.ToUpper(t)))
		}
		txs, err := l.History(cmd.Context(), user, f)
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			fmt.Println("No transactions found.")
			return nil
		}

		fmt.Printf("%-6s  %-19s  %-16s  %8s  %8s  %s\n", "ID", "Timestamp", "Type", "Amount", "Balance", "Description")
		fmt.Println(strings.Repeat("─", 90))
		for _, tx := range txs {
			fmt.Printf("%-6d  %-19s  %-16s  %+8d  %8d  %s\n",
				tx.ID,
				tx.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				tx.Type,
				tx.Amount,
				tx.BalanceAfter,
				tx.Description,
			)
		}
		return nil
	}),
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the cached balance against the ledger",
	RunE: withLedger(func(cmd *cobra.Command, l *ledger.Ledger, user string) error {
		r, err := l.Verify(cmd.Context(), user)
		if err != nil {
			return err
		}
		fmt.Printf("Cached balance:  %d\n", r.Cached)
		fmt.Printf("Ledger balance:  %d\n", r.LatestBalance)
		fmt.Printf("Sum of amounts:  %d\n", r.Sum)
		fmt.Printf("Transactions:    %d\n", r.Rows)
		if !r.Consistent() {
			return fmt.Errorf("balance drift for %s: cached %d, ledger %d", user, r.Cached, r.LatestBalance)
		}
		fmt.Println("OK")
		return nil
	}),
}

func init() {
	ledgerBalanceCmd.Flags().String("user", "", "User to inspect")

	ledgerHistoryCmd.Flags().String("user", "", "User to inspect")
	ledgerHistoryCmd.Flags().IntP("limit", "n", 20, "Number of transactions to show")
	ledgerHistoryCmd.Flags().Int("offset", 0, "Transactions to skip")
	ledgerHistoryCmd.Flags().StringSlice("type", nil, "Filter by type (e.g. READING,REFUND)")

	ledgerVerifyCmd.Flags().String("user", "", "User to verify")

	ledgerCmd.AddCommand(ledgerBalanceCmd)
	ledgerCmd.AddCommand(adjustCmd("credit", "Add tokens to a user", ielts.TxCustomAddition, true))
	ledgerCmd.AddCommand(adjustCmd("debit", "Remove tokens from a user", ielts.TxCustomDeduction, false))
	ledgerCmd.AddCommand(ledgerHistoryCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
}
