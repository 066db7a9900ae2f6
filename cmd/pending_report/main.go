// Command pending_report lists transactions stuck in Pending or
// RequiresAction past PENDING_STALE_AFTER, and lets an operator settle one
// by hand once the rail's dashboard shows the outcome.
//
//	pending_report [-older-than 2h] [-limit 100]
//	pending_report -fail <reference> -provider paystack -reason "returned by bank"
//	pending_report -complete <reference> -provider stripe
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"fxwallet/internal/config"
	"fxwallet/internal/models"
	"fxwallet/internal/money"
	"fxwallet/internal/providers"
	"fxwallet/internal/repositories"
	"fxwallet/internal/services/reconciliation"
	"fxwallet/internal/services/wallet"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	olderThan := flag.Duration("older-than", cfg.PendingStaleAfter, "report transactions unsettled for longer than this")
	limit := flag.Int("limit", 100, "maximum rows to report")
	failRef := flag.String("fail", "", "reference of a transaction to mark failed")
	completeRef := flag.String("complete", "", "reference of a transaction to mark completed")
	provider := flag.String("provider", "", "provider owning the reference")
	reason := flag.String("reason", "settled by operator", "failure reason recorded on -fail")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := repositories.OpenPostgres(cfg.Database)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("database handle", zap.Error(err))
	}
	defer sqlDB.Close()
	store := repositories.NewStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *failRef != "" || *completeRef != "" {
		if *provider == "" {
			logger.Fatal("-provider is required to settle a transaction")
		}
		wallets := wallet.NewService(store, nil, logger)
		recon := reconciliation.NewService(wallets, nil, nil, 0, nil, nil, logger)
		ref, outcome := *completeRef, providers.OutcomeSucceeded
		if *failRef != "" {
			ref, outcome = *failRef, providers.OutcomeFailed
		}
		txn, err := recon.Apply(ctx, &providers.Event{
			ID:        "operator:" + ref,
			Provider:  *provider,
			Type:      "operator." + outcome.String(),
			Reference: ref,
			Reason:    *reason,
		}, outcome)
		if err != nil {
			logger.Fatal("settle", zap.String("reference", ref), zap.Error(err))
		}
		fmt.Printf("%s %s -> %s\n", txn.Reference, txn.Intent, txn.State)
		return
	}

	stale, err := store.Transactions.ListStalePending(ctx, time.Now().Add(-*olderThan), *limit)
	if err != nil {
		logger.Fatal("list stale", zap.Error(err))
	}
	if err := report(os.Stdout, stale, time.Now()); err != nil {
		logger.Fatal("report", zap.Error(err))
	}
	if len(stale) > 0 {
		os.Exit(2)
	}
}

func report(out io.Writer, txs []models.Transaction, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REFERENCE\tUSER\tINTENT\tSTATE\tPROVIDER\tPROVIDER_REF\tAMOUNT\tAGE")
	for _, t := range txs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s %s\t%s\n",
			t.Reference,
			t.UserID,
			t.Intent,
			t.State,
			t.ProviderName(),
			t.ProviderRef(),
			money.FormatMinor(t.Amount, t.Currency),
			t.Currency,
			now.Sub(t.CreatedAt).Round(time.Minute),
		)
	}
	return w.Flush()
}
