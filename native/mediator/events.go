package mediator

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"medchain/core/types"
)

const (
	EventTypeListed   = "mediator.listed"
	EventTypeStaked   = "mediator.staked"
	EventTypeReceived = "mediator.received"
	EventTypeUnsold   = "mediator.unsold"
)

// NewListedEvent returns the canonical event payload emitted when a seller
// registers a listing and deposits their stake.
func NewListedEvent(inst *Instance) *types.Event {
	return newInstanceEvent(EventTypeListed, inst, nil)
}

// NewStakedEvent returns the canonical event payload emitted when a buyer
// commits to the active listing.
func NewStakedEvent(inst *Instance) *types.Event {
	return newInstanceEvent(EventTypeStaked, inst, nil)
}

// NewReceivedEvent returns the canonical event payload emitted when the buyer
// confirms delivery and the escrow settles.
func NewReceivedEvent(inst *Instance, res *Resolution) *types.Event {
	return newInstanceEvent(EventTypeReceived, inst, res)
}

// NewUnsoldEvent returns the canonical event payload emitted when the seller
// withdraws the listing and both stakes are returned.
func NewUnsoldEvent(inst *Instance, res *Resolution) *types.Event {
	return newInstanceEvent(EventTypeUnsold, inst, res)
}

func newInstanceEvent(eventType string, inst *Instance, res *Resolution) *types.Event {
	attrs := make(map[string]string)
	if inst == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeInstance(inst)
	if err != nil {
		// Resolving events describe the instance as it was before the
		// reset, which is always a sanitizable snapshot; fall back to an
		// attribute-free payload otherwise.
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["itemId"] = strconv.FormatUint(sanitized.Listing.ItemID, 10)
	attrs["price"] = sanitized.Listing.Price.String()
	attrs["phase"] = sanitized.Phase().String()
	if sanitized.SellerSet {
		attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	}
	if sanitized.BuyerSet {
		attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	}
	if res != nil {
		attrs["sellerPayout"] = bigString(res.SellerPayout)
		attrs["buyerPayout"] = bigString(res.BuyerPayout)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
