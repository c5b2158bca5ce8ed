package rental

import "fmt"

// Operation names a permissioned entry point on the ledger or escrow. The
// authorization table maps module callers to the operations they were granted
// at startup, replacing scattered per-call permission checks with one explicit
// capability table.
type Operation string

const (
	OpLedgerAddRentals     Operation = "ledger.addRentals"
	OpLedgerRemoveRentals  Operation = "ledger.removeRentals"
	OpLedgerRegisterWallet Operation = "ledger.registerWallet"
	OpEscrowDeposit        Operation = "escrow.deposit"
	OpEscrowSettle         Operation = "escrow.settle"
)

// Grant binds a caller to a set of operations.
type Grant struct {
	Caller [20]byte
	Ops    []Operation
}

// AuthTable is the static caller-capability table consulted by every mutating
// ledger and escrow entry point. It is constructed once at startup and never
// mutated afterwards.
type AuthTable struct {
	grants map[[20]byte]map[Operation]struct{}
}

// NewAuthTable builds the authorization table from the supplied grants.
func NewAuthTable(grants ...Grant) *AuthTable {
	table := &AuthTable{grants: make(map[[20]byte]map[Operation]struct{})}
	for _, grant := range grants {
		ops, ok := table.grants[grant.Caller]
		if !ok {
			ops = make(map[Operation]struct{})
			table.grants[grant.Caller] = ops
		}
		for _, op := range grant.Ops {
			ops[op] = struct{}{}
		}
	}
	return table
}

// Allowed reports whether the caller holds the operation capability.
func (t *AuthTable) Allowed(caller [20]byte, op Operation) bool {
	if t == nil {
		return false
	}
	ops, ok := t.grants[caller]
	if !ok {
		return false
	}
	_, ok = ops[op]
	return ok
}

// Require returns ErrUnauthorized when the caller lacks the operation
// capability.
func (t *AuthTable) Require(caller [20]byte, op Operation) error {
	if !t.Allowed(caller, op) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, op)
	}
	return nil
}
