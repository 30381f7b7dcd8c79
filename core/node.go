package core

import (
	"errors"
	"math/big"
	"sync"

	"medchain/core/events"
	nhstate "medchain/core/state"
	"medchain/core/types"
	"medchain/native/mediator"
	"medchain/storage"
)

var errNegativeCredit = errors.New("credit amount must be non-negative")

// Node is the execution environment of the escrow state machine. It owns the
// backing store and applies every invocation as one indivisible transaction:
// invocations are serialized under a single mutex, run against a write
// overlay, and the overlay is flushed only when the engine accepts the
// invocation. A rejected invocation therefore leaves no trace in state and
// moves no funds.
type Node struct {
	db storage.Database

	stateMu sync.Mutex
	pauses  PauseSet
	events  []types.Event
}

// PauseSet is a static pause switchboard loaded from configuration.
type PauseSet map[string]bool

// IsPaused implements the native/common.PauseView interface.
func (p PauseSet) IsPaused(module string) bool { return p[module] }

// NewNode creates a node operating on the provided database.
func NewNode(db storage.Database, pauses PauseSet) *Node {
	return &Node{db: db, pauses: pauses}
}

type collectingEmitter struct {
	collected []types.Event
}

func (c *collectingEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if provider, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := provider.Event(); payload != nil {
			attrs := make(map[string]string, len(payload.Attributes))
			for k, v := range payload.Attributes {
				attrs[k] = v
			}
			c.collected = append(c.collected, types.Event{Type: payload.Type, Attributes: attrs})
		}
		return
	}
	c.collected = append(c.collected, types.Event{Type: evt.EventType(), Attributes: map[string]string{}})
}

// withEngine runs fn against an engine bound to an overlay of the node state
// and commits the overlay plus any emitted events only when fn succeeds.
func (n *Node) withEngine(fn func(engine *mediator.Engine) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	overlay := storage.NewOverlay(n.db)
	manager := nhstate.NewManager(overlay)
	emitter := &collectingEmitter{}

	engine := mediator.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(emitter)
	engine.SetPauses(n.pauses)

	if err := fn(engine); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Flush(); err != nil {
		return err
	}
	n.events = append(n.events, emitter.collected...)
	return nil
}

// Sell registers a listing with the caller as seller.
func (n *Node) Sell(itemID uint64, price *big.Int, caller [20]byte, deposit *big.Int) (*mediator.Instance, error) {
	var inst *mediator.Instance
	err := n.withEngine(func(engine *mediator.Engine) error {
		var err error
		inst, err = engine.Sell(itemID, price, caller, deposit)
		return err
	})
	return inst, err
}

// Buy registers the caller as buyer of the active listing.
func (n *Node) Buy(itemID uint64, caller [20]byte, deposit *big.Int) (*mediator.Instance, error) {
	var inst *mediator.Instance
	err := n.withEngine(func(engine *mediator.Engine) error {
		var err error
		inst, err = engine.Buy(itemID, caller, deposit)
		return err
	})
	return inst, err
}

// Received confirms delivery and settles the escrow.
func (n *Node) Received(itemID uint64, caller [20]byte) (*mediator.Resolution, error) {
	var res *mediator.Resolution
	err := n.withEngine(func(engine *mediator.Engine) error {
		var err error
		res, err = engine.Received(itemID, caller)
		return err
	})
	return res, err
}

// Unsell withdraws the listing and refunds both stakes.
func (n *Node) Unsell(itemID uint64, caller [20]byte) (*mediator.Resolution, error) {
	var res *mediator.Resolution
	err := n.withEngine(func(engine *mediator.Engine) error {
		var err error
		res, err = engine.Unsell(itemID, caller)
		return err
	})
	return res, err
}

// Instance returns a copy of the current escrow instance.
func (n *Node) Instance() (*mediator.Instance, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	inst, err := nhstate.NewManager(n.db).MediatorGet()
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return mediator.NewInstance(), nil
	}
	return inst, nil
}

// GetAccount returns a copy of the account stored under the address.
func (n *Node) GetAccount(addr []byte) (*types.Account, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return nhstate.NewManager(n.db).GetAccount(addr)
}

// Credit adds funds to the account. It backs the faucet used for local
// networks and tests; production deployments load balances at genesis.
func (n *Node) Credit(addr []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errNegativeCredit
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := nhstate.NewManager(n.db)
	account, err := manager.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return manager.PutAccount(addr, account)
}

// VaultAddress exposes the escrow vault address for queries.
func (n *Node) VaultAddress() [20]byte {
	return nhstate.NewManager(n.db).MediatorVaultAddress()
}

// Events returns a copy of all events emitted by committed invocations, in
// emission order.
func (n *Node) Events() []types.Event {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	out := make([]types.Event, len(n.events))
	for i := range n.events {
		attrs := make(map[string]string, len(n.events[i].Attributes))
		for k, v := range n.events[i].Attributes {
			attrs[k] = v
		}
		out[i] = types.Event{Type: n.events[i].Type, Attributes: attrs}
	}
	return out
}
