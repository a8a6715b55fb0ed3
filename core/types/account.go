package types

import "math/big"

// Account tracks the spendable token balance for a maker, taker or vault
// address. Locked funds never live on an account; they are moved into the
// escrow vault and tracked per order by the escrow ledger.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// Clone returns a deep copy of the account so callers can mutate the result
// without touching the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	} else {
		clone.Balance = big.NewInt(0)
	}
	return &clone
}
