package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/splax/creditledger/pkg/api/client"
)

var (
	remoteURL   string
	remoteToken string
	remoteLimit int
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Talk to a running ledger API as an account holder",
}

func remoteClient() (*client.Client, error) {
	base := remoteURL
	if base == "" {
		base = os.Getenv("LEDGER_API_URL")
	}
	token := remoteToken
	if token == "" {
		token = os.Getenv("LEDGER_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("a bearer token is required (--token or $LEDGER_TOKEN)")
	}
	return client.New(base, client.WithToken(token))
}

var remoteCreditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Show the caller's balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := remoteClient()
		if err != nil {
			return err
		}
		balance, err := api.Credits(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", balance.User.Name, balance.Credits)
		return nil
	},
}

var remoteVerifyCmd = &cobra.Command{
	Use:   "verify PAYMENT_INTENT_ID",
	Short: "Ask the API to reconcile a payment intent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := remoteClient()
		if err != nil {
			return err
		}
		res, err := api.Verify(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch {
		case res.Credited:
			fmt.Fprintf(out, "%s, balance %d\n", res.Message, res.Credits)
		case res.Success:
			fmt.Fprintf(out, "already settled, balance %d\n", res.Credits)
		default:
			fmt.Fprintf(out, "%s\n", res.Message)
		}
		return nil
	},
}

var remoteTransactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List the caller's purchases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := remoteClient()
		if err != nil {
			return err
		}
		items, err := api.Transactions(cmd.Context(), remoteLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ENTRY\tPLAN\tCREDITS\tSTATE\tCREATED")
		for _, item := range items {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", item.ID, item.PlanID, item.Credits, item.Status, item.CreatedAt.UTC().Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&remoteURL, "api", "", "API base URL (defaults to $LEDGER_API_URL or http://localhost:4000)")
	remoteCmd.PersistentFlags().StringVar(&remoteToken, "token", "", "bearer token (defaults to $LEDGER_TOKEN)")
	remoteTransactionsCmd.Flags().IntVar(&remoteLimit, "limit", 20, "number of entries to list")
	remoteCmd.AddCommand(remoteCreditsCmd, remoteVerifyCmd, remoteTransactionsCmd)
	rootCmd.AddCommand(remoteCmd)
}
