/*
Package wallet owns every balance mutation.

Engines never touch a balance directly. They open a unit of work on the
store, write their transaction row, and hand the service the postings
that transaction causes:

	err := store.ExecuteInTransaction(ctx, func(tx *repositories.Store) error {
	    if _, _, err := tx.Transactions.CreateOrFetch(ctx, txn); err != nil {
	        return err
	    }
	    return wallets.Post(ctx, tx, txn,
	        wallet.Posting{WalletID: from.ID, Amount: -amount},
	        wallet.Posting{WalletID: to.ID, Amount: amount},
	    )
	})

Post locks the wallets in ascending id order, re-reads them, rejects any
debit the locked balance cannot cover, appends one ledger entry per
posting and moves the balances. All of it commits or rolls back with the
caller's unit of work.

The read side (balances, wallet lists, transaction history) and the
ledger audit that compares stored balances with ledger sums also live here.
*/
package wallet
