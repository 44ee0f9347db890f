package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/splax/creditledger/internal/app/bootstrap"
	"github.com/splax/creditledger/internal/catalog"
	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/repository"
	"github.com/splax/creditledger/internal/service/billing"
)

var historyLimit int

// openStore is swapped in tests.
var openStore = bootstrap.OpenStore

// newProcessor is swapped in tests.
var newProcessor = func() (billing.PaymentProcessor, error) {
	processor, err := bootstrap.NewProcessor(cfg, log)
	if err != nil {
		return nil, err
	}
	return processor, nil
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List the credit plans on sale",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PLAN\tCREDITS\tPRICE")
		for _, plan := range catalog.All() {
			fmt.Fprintf(tw, "%s\t%d\t%s %s\n", plan.ID, plan.Credits, plan.DisplayPrice(), strings.ToUpper(cfg.Currency))
		}
		return tw.Flush()
	},
}

var settleCmd = &cobra.Command{
	Use:   "settle PAYMENT_INTENT_ID",
	Short: "Reconcile a payment intent with the ledger",
	Long: `Fetch the payment intent from the processor and, when it has succeeded,
credit the owning account. Running it again for the same intent is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer store.Close(ctx)
		processor, err := newProcessor()
		if err != nil {
			return err
		}
		svc := billing.New(store, store, processor, nil, log, cfg)
		res, err := svc.Settle(ctx, args[0])
		if err != nil {
			return fmt.Errorf("%s (%s): %w", domain.Message(err), domain.KindOf(err), err)
		}
		out := cmd.OutOrStdout()
		switch res.Outcome {
		case billing.OutcomeCredited:
			fmt.Fprintf(out, "credited %d credits to %s, balance %d\n", res.Credits, res.AccountID, res.Balance)
		case billing.OutcomeAlreadySettled:
			fmt.Fprintf(out, "already settled for %s, balance %d\n", res.AccountID, res.Balance)
		default:
			fmt.Fprintf(out, "payment not completed (status %s)\n", res.Status)
		}
		return nil
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT_ID",
	Short: "Show an account's credit balance and recent purchases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer store.Close(ctx)
		return printBalance(cmd, store, args[0])
	},
}

func printBalance(cmd *cobra.Command, store repository.Store, accountID string) error {
	ctx := cmd.Context()
	svc := billing.New(store, store, nil, nil, log, cfg)
	account, err := svc.Balance(ctx, accountID)
	if err != nil {
		return err
	}
	entries, err := svc.History(ctx, account.ID, historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s <%s>: %d credits\n", account.Name, account.Email, account.CreditBalance)
	if len(entries) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tPLAN\tCREDITS\tSTATE\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.ID, e.PlanID, e.Credits, e.State(), e.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func init() {
	balanceCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of ledger entries to show")
	rootCmd.AddCommand(plansCmd, settleCmd, balanceCmd)
}
