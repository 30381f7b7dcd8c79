package mediator

import (
	"fmt"
	"math/big"
)

// Phase describes where the escrow instance is in its sale cycle.
type Phase uint8

const (
	PhaseEmpty        Phase = iota // no listing, no parties
	PhaseSellerStaked              // seller registered and staked
	PhaseFullyStaked               // both parties staked, awaiting resolution
)

// String returns a human readable phase label.
func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseSellerStaked:
		return "seller-staked"
	case PhaseFullyStaked:
		return "fully-staked"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Listing is the good currently registered for sale. The price is denominated
// in the smallest unit of the settlement token.
type Listing struct {
	ItemID uint64   `json:"itemId"`
	Price  *big.Int `json:"price"`
}

// Instance is the whole contract state of the escrow: the active listing plus
// the two participant slots. The SellerSet/BuyerSet flags, not the address
// values, decide whether a slot is occupied; addresses are zeroed whenever the
// corresponding flag is false so no placeholder identity can collide with a
// real participant.
type Instance struct {
	Listing   Listing  `json:"listing"`
	Seller    [20]byte `json:"seller"`
	SellerSet bool     `json:"sellerSet"`
	Buyer     [20]byte `json:"buyer"`
	BuyerSet  bool     `json:"buyerSet"`
}

// NewInstance returns an empty, reusable escrow instance.
func NewInstance() *Instance {
	return &Instance{Listing: Listing{Price: big.NewInt(0)}}
}

// Phase derives the lifecycle phase from the occupancy flags.
func (i *Instance) Phase() Phase {
	switch {
	case i == nil || !i.SellerSet:
		return PhaseEmpty
	case !i.BuyerSet:
		return PhaseSellerStaked
	default:
		return PhaseFullyStaked
	}
}

// Clone returns a deep copy of the instance so callers can safely mutate the
// copy without affecting the stored state.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return NewInstance()
	}
	clone := *i
	if i.Listing.Price != nil {
		clone.Listing.Price = new(big.Int).Set(i.Listing.Price)
	} else {
		clone.Listing.Price = big.NewInt(0)
	}
	return &clone
}

// SanitizeInstance validates the structural invariants of the supplied
// instance and returns a normalised clone: non-nil price, zeroed addresses on
// unoccupied slots and a zero listing while no seller is registered. The
// original value is not mutated.
func SanitizeInstance(i *Instance) (*Instance, error) {
	if i == nil {
		return nil, fmt.Errorf("nil mediator instance")
	}
	clone := i.Clone()
	if clone.BuyerSet && !clone.SellerSet {
		return nil, fmt.Errorf("buyer slot occupied without a seller")
	}
	if clone.Listing.Price.Sign() < 0 {
		return nil, fmt.Errorf("listing price must be non-negative")
	}
	if !clone.SellerSet {
		if clone.Listing.ItemID != 0 || clone.Listing.Price.Sign() != 0 {
			return nil, fmt.Errorf("listing must be zero while no seller is registered")
		}
		clone.Seller = [20]byte{}
	}
	if !clone.BuyerSet {
		clone.Buyer = [20]byte{}
	}
	return clone, nil
}
