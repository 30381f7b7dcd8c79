package mediator

import (
	"errors"
	"fmt"
	"math/big"

	"medchain/core/events"
	"medchain/core/types"
	nativecommon "medchain/native/common"
)

const moduleName = "mediator"

var (
	errNilState = errors.New("mediator engine: state not configured")
)

// engineState is the narrow substrate interface the engine depends on: the
// persisted escrow instance, the account ledger and the address of the vault
// that holds staked funds between deposit and resolution.
type engineState interface {
	MediatorGet() (*Instance, error)
	MediatorPut(*Instance) error
	MediatorVaultAddress() [20]byte
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type mediatorEvent struct {
	evt *types.Event
}

func (e mediatorEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e mediatorEvent) Event() *types.Event { return e.evt }

// Resolution summarises the disbursement performed by a resolving call.
type Resolution struct {
	ItemID       uint64
	Price        *big.Int
	SellerPayout *big.Int
	BuyerPayout  *big.Int
}

// Engine implements the escrow state machine: one listing at a time, both
// parties over-collateralized at twice the price, and two resolving paths
// that disburse the vault and reset the instance for the next cycle.
//
// Every operation is a single check-then-act sequence: all preconditions are
// verified before the first balance or state mutation, so a rejected
// invocation leaves nothing behind. The caller is expected to serialize
// invocations and to apply each one transactionally.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewEngine creates a mediator engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the module pause switchboard consulted on every
// mutating operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(mediatorEvent{evt: event})
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) loadInstance() (*Instance, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	inst, err := e.state.MediatorGet()
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return NewInstance(), nil
	}
	return inst, nil
}

func (e *Engine) storeInstance(inst *Instance) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.MediatorPut(inst)
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("mediator: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("mediator: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return err
	}
	return nil
}

// requiredStake computes the deposit each party must attach: exactly twice
// the listing price.
func requiredStake(price *big.Int) *big.Int {
	return new(big.Int).Lsh(cloneBigInt(price), 1)
}

// Sell registers a listing and the caller as seller. The caller must attach
// exactly twice the stated price; the deposit is moved into the vault and
// held until resolution.
func (e *Engine) Sell(itemID uint64, price *big.Int, caller [20]byte, deposit *big.Int) (*Instance, error) {
	inst, err := e.loadInstance()
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if inst.SellerSet {
		return nil, ErrAlreadyInUse
	}
	if price == nil || price.Sign() < 0 {
		return nil, fmt.Errorf("%w: price must be non-negative", ErrInvalidStake)
	}
	stake := cloneBigInt(deposit)
	if stake.Cmp(requiredStake(price)) != 0 {
		return nil, ErrInvalidStake
	}
	if err := e.transfer(caller, e.state.MediatorVaultAddress(), stake); err != nil {
		return nil, err
	}
	inst.Listing = Listing{ItemID: itemID, Price: cloneBigInt(price)}
	inst.Seller = caller
	inst.SellerSet = true
	if err := e.storeInstance(inst); err != nil {
		return nil, err
	}
	e.emit(NewListedEvent(inst))
	return inst.Clone(), nil
}

// Buy registers the caller as buyer of the active listing. The caller must
// attach exactly twice the listing price.
//
// The itemID argument is accepted but deliberately not matched against the
// stored listing: only one listing is active at a time, so the stored listing
// is authoritative.
func (e *Engine) Buy(itemID uint64, caller [20]byte, deposit *big.Int) (*Instance, error) {
	inst, err := e.loadInstance()
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !inst.SellerSet {
		return nil, ErrProductNotSet
	}
	if inst.BuyerSet {
		return nil, ErrAlreadyInUse
	}
	stake := cloneBigInt(deposit)
	if stake.Cmp(requiredStake(inst.Listing.Price)) != 0 {
		return nil, ErrInvalidStake
	}
	if err := e.transfer(caller, e.state.MediatorVaultAddress(), stake); err != nil {
		return nil, err
	}
	inst.Buyer = caller
	inst.BuyerSet = true
	if err := e.storeInstance(inst); err != nil {
		return nil, err
	}
	e.emit(NewStakedEvent(inst))
	return inst.Clone(), nil
}

// Received confirms delivery. Only the buyer may call it. The vault disburses
// the full 4x price it holds: the buyer recovers their stake net of the
// purchase price (1x) and the seller receives their stake plus the payment
// (3x). The instance then resets for the next sale cycle.
func (e *Engine) Received(itemID uint64, caller [20]byte) (*Resolution, error) {
	inst, err := e.loadInstance()
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !inst.SellerSet {
		return nil, ErrSellerNotSet
	}
	if !inst.BuyerSet {
		return nil, ErrBuyerNotSet
	}
	if caller != inst.Buyer {
		return nil, fmt.Errorf("%w: caller is not the buyer", ErrUnauthorized)
	}
	price := cloneBigInt(inst.Listing.Price)
	res := &Resolution{
		ItemID:       inst.Listing.ItemID,
		Price:        price,
		BuyerPayout:  cloneBigInt(price),
		SellerPayout: new(big.Int).Mul(price, big.NewInt(3)),
	}
	return res, e.resolve(inst, res, NewReceivedEvent)
}

// Unsell withdraws the listing. Only the seller may call it. Both stakes are
// returned symmetrically (2x price each) with no payment extracted from the
// buyer, so a seller who withholds the good gains nothing. The instance then
// resets for the next sale cycle.
func (e *Engine) Unsell(itemID uint64, caller [20]byte) (*Resolution, error) {
	inst, err := e.loadInstance()
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !inst.SellerSet {
		return nil, ErrSellerNotSet
	}
	if !inst.BuyerSet {
		return nil, ErrBuyerNotSet
	}
	if caller != inst.Seller {
		return nil, fmt.Errorf("%w: caller is not the seller", ErrUnauthorized)
	}
	price := cloneBigInt(inst.Listing.Price)
	stake := requiredStake(price)
	res := &Resolution{
		ItemID:       inst.Listing.ItemID,
		Price:        price,
		BuyerPayout:  cloneBigInt(stake),
		SellerPayout: cloneBigInt(stake),
	}
	return res, e.resolve(inst, res, NewUnsoldEvent)
}

// resolve disburses the vault according to the resolution and resets the
// instance. It is the only path out of the fully-staked phase and is never
// exposed as a standalone operation.
func (e *Engine) resolve(inst *Instance, res *Resolution, eventFn func(*Instance, *Resolution) *types.Event) error {
	vault := e.state.MediatorVaultAddress()
	if err := e.transfer(vault, inst.Buyer, res.BuyerPayout); err != nil {
		return err
	}
	if err := e.transfer(vault, inst.Seller, res.SellerPayout); err != nil {
		return err
	}
	snapshot := inst.Clone()
	resetInstance(inst)
	if err := e.storeInstance(inst); err != nil {
		return err
	}
	e.emit(eventFn(snapshot, res))
	return nil
}

// resetInstance clears the listing and both participant slots, returning the
// instance to the empty phase. Invoked only from the resolving transitions.
func resetInstance(inst *Instance) {
	inst.Listing = Listing{Price: big.NewInt(0)}
	inst.Seller = [20]byte{}
	inst.SellerSet = false
	inst.Buyer = [20]byte{}
	inst.BuyerSet = false
}
