package rental

import "testing"

func TestAuthTable(t *testing.T) {
	converter := addr(0x01)
	stopEngine := addr(0x02)
	table := NewAuthTable(
		Grant{Caller: converter, Ops: []Operation{OpLedgerAddRentals, OpEscrowDeposit}},
		Grant{Caller: stopEngine, Ops: []Operation{OpLedgerRemoveRentals, OpEscrowSettle}},
	)

	if !table.Allowed(converter, OpLedgerAddRentals) {
		t.Fatalf("granted capability missing")
	}
	if table.Allowed(converter, OpLedgerRemoveRentals) {
		t.Fatalf("capabilities must not leak across callers")
	}
	if table.Allowed(addr(0x99), OpEscrowDeposit) {
		t.Fatalf("unknown caller must hold nothing")
	}

	if err := table.Require(stopEngine, OpEscrowSettle); err != nil {
		t.Fatalf("require: %v", err)
	}
	err := table.Require(stopEngine, OpEscrowDeposit)
	requireErrorIs(t, err, ErrUnauthorized)
}

func TestAuthTableNilSafe(t *testing.T) {
	var table *AuthTable
	if table.Allowed(addr(0x01), OpEscrowDeposit) {
		t.Fatalf("nil table must deny everything")
	}
	err := table.Require(addr(0x01), OpEscrowDeposit)
	requireErrorIs(t, err, ErrUnauthorized)
}

func TestGrantsAccumulate(t *testing.T) {
	caller := addr(0x01)
	table := NewAuthTable(
		Grant{Caller: caller, Ops: []Operation{OpLedgerAddRentals}},
		Grant{Caller: caller, Ops: []Operation{OpLedgerRemoveRentals}},
	)
	if !table.Allowed(caller, OpLedgerAddRentals) || !table.Allowed(caller, OpLedgerRemoveRentals) {
		t.Fatalf("repeated grants for one caller must accumulate")
	}
}
