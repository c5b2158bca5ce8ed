package rental

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"rentchain/core/events"
)

type mockState struct {
	kv    map[string][]byte
	roles map[string]map[[20]byte]bool
	saved []map[string][]byte
}

func newMockState() *mockState {
	return &mockState{
		kv:    make(map[string][]byte),
		roles: make(map[string]map[[20]byte]bool),
	}
}

func (m *mockState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *mockState) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockState) KVDelete(key []byte) error {
	delete(m.kv, string(key))
	return nil
}

func (m *mockState) KVHas(key []byte) (bool, error) {
	_, ok := m.kv[string(key)]
	return ok, nil
}

func (m *mockState) HasRole(role string, addr []byte) bool {
	members, ok := m.roles[role]
	if !ok {
		return false
	}
	var key [20]byte
	copy(key[:], addr)
	return members[key]
}

// Snapshot copies the whole kv map; the production state manager journals
// pre-images instead, but the semantics engines rely on are the same.
func (m *mockState) Snapshot() int {
	copied := make(map[string][]byte, len(m.kv))
	for k, v := range m.kv {
		copied[k] = v
	}
	m.saved = append(m.saved, copied)
	return len(m.saved) - 1
}

func (m *mockState) RevertToSnapshot(mark int) error {
	m.kv = m.saved[mark]
	m.saved = m.saved[:mark]
	return nil
}

func (m *mockState) DiscardSnapshot(mark int) {
	m.saved = m.saved[:mark]
}

func (m *mockState) grantRole(role string, addr [20]byte) {
	members, ok := m.roles[role]
	if !ok {
		members = make(map[[20]byte]bool)
		m.roles[role] = members
	}
	members[addr] = true
}

type transferRecord struct {
	Token  [20]byte
	To     [20]byte
	Amount *big.Int
}

type mockBank struct {
	balances  map[[20]byte]map[[20]byte]*big.Int
	transfers []transferRecord
}

func newMockBank() *mockBank {
	return &mockBank{balances: make(map[[20]byte]map[[20]byte]*big.Int)}
}

func (b *mockBank) setBalance(token [20]byte, holder [20]byte, amount *big.Int) {
	holders, ok := b.balances[token]
	if !ok {
		holders = make(map[[20]byte]*big.Int)
		b.balances[token] = holders
	}
	holders[holder] = new(big.Int).Set(amount)
}

func (b *mockBank) BalanceOf(token [20]byte, holder [20]byte) (*big.Int, error) {
	holders, ok := b.balances[token]
	if !ok {
		return big.NewInt(0), nil
	}
	balance, ok := holders[holder]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (b *mockBank) Transfer(token [20]byte, to [20]byte, amount *big.Int) error {
	b.transfers = append(b.transfers, transferRecord{Token: token, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (b *mockBank) transferredTo(to [20]byte) *big.Int {
	total := big.NewInt(0)
	for _, record := range b.transfers {
		if record.To == to {
			total.Add(total, record.Amount)
		}
	}
	return total
}

type reclaimRecord struct {
	Wallet    [20]byte
	Recipient [20]byte
	Items     []RentalItem
}

type mockWallets struct {
	owners     map[[20]byte]map[[20]byte]bool
	reclaimed  []reclaimRecord
	reclaimErr error
}

func newMockWallets() *mockWallets {
	return &mockWallets{owners: make(map[[20]byte]map[[20]byte]bool)}
}

func (w *mockWallets) setOwner(wallet [20]byte, owner [20]byte) {
	owners, ok := w.owners[wallet]
	if !ok {
		owners = make(map[[20]byte]bool)
		w.owners[wallet] = owners
	}
	owners[owner] = true
}

func (w *mockWallets) IsOwner(wallet [20]byte, owner [20]byte) (bool, error) {
	return w.owners[wallet][owner], nil
}

func (w *mockWallets) ReclaimRentals(wallet [20]byte, recipient [20]byte, items []RentalItem) error {
	if w.reclaimErr != nil {
		return w.reclaimErr
	}
	w.reclaimed = append(w.reclaimed, reclaimRecord{Wallet: wallet, Recipient: recipient, Items: items})
	return nil
}

type capturedEvent struct {
	Type       string
	Attributes map[string]string
}

type mockEmitter struct {
	events []capturedEvent
}

func (e *mockEmitter) Emit(evt events.Event) {
	captured := capturedEvent{Type: evt.EventType()}
	if rentalEvt, ok := evt.(*rentalEvent); ok && rentalEvt.Event() != nil {
		captured.Attributes = rentalEvt.Event().Attributes
	}
	e.events = append(e.events, captured)
}

func (e *mockEmitter) byType(eventType string) []capturedEvent {
	var out []capturedEvent
	for _, evt := range e.events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func hash32(b byte) [32]byte {
	var out [32]byte
	out[31] = b
	return out
}

// testEnv wires a full protocol instance against in-memory collaborators.
type testEnv struct {
	st        *mockState
	bank      *mockBank
	wallets   *mockWallets
	emitter   *mockEmitter
	ledger    *Ledger
	escrow    *PaymentEscrow
	converter *Converter
	stop      *StopEngine
	guard     *Guard

	moduleAddr [20]byte
	escrowAddr [20]byte
	admin      [20]byte

	signerKey *ecdsa.PrivateKey
	signer    [20]byte

	now uint64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		st:         newMockState(),
		bank:       newMockBank(),
		wallets:    newMockWallets(),
		emitter:    &mockEmitter{},
		moduleAddr: addr(0xAA),
		escrowAddr: addr(0xEE),
		admin:      addr(0xAD),
		now:        1_000_000,
	}
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate signer key: %v", err)
	}
	env.signerKey = key
	copy(env.signer[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())

	auth := NewAuthTable(Grant{
		Caller: env.moduleAddr,
		Ops: []Operation{
			OpLedgerAddRentals,
			OpLedgerRemoveRentals,
			OpLedgerRegisterWallet,
			OpEscrowDeposit,
			OpEscrowSettle,
		},
	})
	env.ledger = NewLedger(env.st, auth)
	env.escrow = NewPaymentEscrow(env.st, env.bank, auth, env.escrowAddr)
	env.converter = NewConverter(env.ledger, env.escrow, env.wallets, env.moduleAddr)
	env.stop = NewStopEngine(env.ledger, env.escrow, env.wallets, env.moduleAddr)
	env.guard = NewGuard(env.ledger, nil, addr(0xFE))

	env.escrow.SetNowFunc(env.clock)
	env.converter.SetNowFunc(env.clock)
	env.stop.SetNowFunc(env.clock)
	env.converter.SetEmitter(env.emitter)
	env.stop.SetEmitter(env.emitter)
	env.escrow.SetEmitter(env.emitter)

	env.st.grantRole(RoleRentalAdmin, env.admin)
	env.st.grantRole(RoleRentalSigner, env.signer)
	return env
}

func (env *testEnv) clock() uint64 { return env.now }

func (env *testEnv) advance(seconds uint64) { env.now += seconds }

// whitelist approves the token as both rentable asset and payment so order
// builders need no per-test setup.
func (env *testEnv) whitelistAsset(t *testing.T, token [20]byte) {
	t.Helper()
	if err := env.ledger.SetAssetFlags(env.admin, token, AssetFlags{Rentable: true}); err != nil {
		t.Fatalf("whitelist asset: %v", err)
	}
}

func (env *testEnv) whitelistPayment(t *testing.T, token [20]byte) {
	t.Helper()
	if err := env.ledger.SetPaymentAllowed(env.admin, token, true); err != nil {
		t.Fatalf("whitelist payment: %v", err)
	}
}

func (env *testEnv) deployWallet(t *testing.T, wallet [20]byte, owner [20]byte) {
	t.Helper()
	if _, err := env.ledger.RegisterWallet(env.moduleAddr, wallet); err != nil {
		t.Fatalf("register wallet: %v", err)
	}
	env.wallets.setOwner(wallet, owner)
}

func (env *testEnv) signPayload(t *testing.T, payload *RentPayload) []byte {
	t.Helper()
	digest := payload.Hash()
	signature, err := ethcrypto.Sign(digest[:], env.signerKey)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	return signature
}

// baseOrderParams builds a canonical BASE order settlement: one ERC721 asset
// offered against one ERC20 payment, with every whitelist and wallet
// precondition already satisfied.
func (env *testEnv) baseOrderParams(t *testing.T) *SettlementParams {
	t.Helper()
	assetToken := addr(0x71)
	paymentToken := addr(0x20)
	lender := addr(0x01)
	renter := addr(0x02)
	wallet := addr(0x03)

	env.whitelistAsset(t, assetToken)
	env.whitelistPayment(t, paymentToken)
	env.deployWallet(t, wallet, renter)

	payload := &RentPayload{
		TradeHash: hash32(0x11),
		Metadata: OrderMetadata{
			Kind:         OrderKindBase,
			RentDuration: 100,
		},
		Expiration:        env.now + 600,
		IntendedFulfiller: renter,
		Wallet:            wallet,
	}
	offer := []SpentItem{{
		Kind:       ItemKindERC721,
		Token:      assetToken,
		Identifier: big.NewInt(7),
		Amount:     big.NewInt(1),
	}}
	consideration := []ReceivedItem{{
		Kind:      ItemKindERC20,
		Token:     paymentToken,
		Amount:    big.NewInt(10_000),
		Recipient: renter,
	}}
	executions := []Execution{
		{Kind: ItemKindERC721, Token: assetToken, Identifier: big.NewInt(7), Amount: big.NewInt(1), From: lender, To: wallet},
		{Kind: ItemKindERC20, Token: paymentToken, Amount: big.NewInt(10_000), From: renter, To: env.escrowAddr},
	}
	return &SettlementParams{
		Mode:          SettlementModeFull,
		TradeHash:     payload.TradeHash,
		MetadataHash:  payload.Metadata.Hash(),
		Offer:         offer,
		Consideration: consideration,
		Executions:    executions,
		Fulfiller:     renter,
		Offerer:       lender,
		Payload:       payload,
		Signature:     env.signPayload(t, payload),
	}
}

// payOrderParams builds a canonical PAY order settlement: one ERC721 asset and
// one renter-bound ERC20 payment on the offer side.
func (env *testEnv) payOrderParams(t *testing.T, tradeSeed byte, amount int64) *SettlementParams {
	t.Helper()
	return env.payOrderParamsBetween(t, tradeSeed, amount, addr(0x01), addr(0x02), addr(0x03))
}

// payOrderParamsBetween is payOrderParams with explicit parties so multi-party
// scenarios can run in one env. The asset identifier doubles as the trade seed
// to keep rental ids distinct across orders.
func (env *testEnv) payOrderParamsBetween(t *testing.T, tradeSeed byte, amount int64, lender, renter, wallet [20]byte) *SettlementParams {
	t.Helper()
	assetToken := addr(0x71)
	paymentToken := addr(0x20)

	env.whitelistAsset(t, assetToken)
	env.whitelistPayment(t, paymentToken)
	env.deployWallet(t, wallet, renter)

	payload := &RentPayload{
		TradeHash: hash32(tradeSeed),
		Metadata: OrderMetadata{
			Kind:         OrderKindPay,
			RentDuration: 100,
		},
		Expiration:        env.now + 600,
		IntendedFulfiller: renter,
		Wallet:            wallet,
	}
	offer := []SpentItem{
		{Kind: ItemKindERC721, Token: assetToken, Identifier: big.NewInt(int64(tradeSeed)), Amount: big.NewInt(1)},
		{Kind: ItemKindERC20, Token: paymentToken, Amount: big.NewInt(amount)},
	}
	executions := []Execution{
		{Kind: ItemKindERC721, Token: assetToken, Identifier: big.NewInt(int64(tradeSeed)), Amount: big.NewInt(1), From: lender, To: wallet},
		{Kind: ItemKindERC20, Token: paymentToken, Amount: big.NewInt(amount), From: lender, To: env.escrowAddr},
	}
	return &SettlementParams{
		Mode:         SettlementModeFull,
		TradeHash:    payload.TradeHash,
		MetadataHash: payload.Metadata.Hash(),
		Offer:        offer,
		Executions:   executions,
		Fulfiller:    renter,
		Offerer:      lender,
		Payload:      payload,
		Signature:    env.signPayload(t, payload),
	}
}

// startOrder runs the full conversion and fails the test on error.
func (env *testEnv) startOrder(t *testing.T, params *SettlementParams) *RentalOrder {
	t.Helper()
	ack, order, err := env.converter.ValidateOrder(params)
	if err != nil {
		t.Fatalf("validate order: %v", err)
	}
	if ack != SettlementAck {
		t.Fatalf("unexpected ack: %x", ack)
	}
	if order == nil {
		t.Fatalf("expected started order")
	}
	return order
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %v, got nil", target)
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v, got %v", target, err)
	}
}
