/*
balance.go - Balance projection

PURPOSE:
  Derives balance and lifetime points from a ledger snapshot. Nothing here
  is cached: the projection runs after every mutation so a partial update
  can never leave the figures drifting from the transactions.

FORMULAS:
  balance  = opening + sum(amount)               every kind, signed
  lifetime = sum(amount where kind in {earned, bonus})

  Spends, adjustments and expirations move the balance but never tier
  progress.

EXAMPLE:
  opening 0, [+100 earned, +50 bonus, -75 spent, -10 expired]
  balance  = 65
  lifetime = 150
*/
package points

// Totals is the raw projection of a ledger.
type Totals struct {
	Balance        int64
	LifetimePoints int64
	PendingCount   int
}

// Project folds the snapshot into its totals.
func Project(snap LedgerSnapshot) Totals {
	t := Totals{Balance: snap.Opening}
	for _, tx := range snap.Transactions {
		t.Balance += tx.Amount
		if tx.Kind.CountsTowardLifetime() {
			t.LifetimePoints += tx.Amount
		}
		if !tx.IsReconciled {
			t.PendingCount++
		}
	}
	return t
}

// sumAmounts returns the signed total of txs.
func sumAmounts(txs []Transaction) int64 {
	var total int64
	for _, tx := range txs {
		total += tx.Amount
	}
	return total
}
