package mediator

import "errors"

// Precondition violations surfaced by the engine. Every failed invocation
// aborts outright: no state is written and no funds move.
var (
	// ErrAlreadyInUse signals that a slot which should be empty is occupied.
	ErrAlreadyInUse = errors.New("mediator: contract already in use")
	// ErrProductNotSet signals an action that requires a registered listing.
	ErrProductNotSet = errors.New("mediator: product not yet set")
	// ErrSellerNotSet signals a resolving call before the seller staked.
	ErrSellerNotSet = errors.New("mediator: seller not yet set")
	// ErrBuyerNotSet signals a resolving call before the buyer staked.
	ErrBuyerNotSet = errors.New("mediator: buyer not yet set")
	// ErrInvalidStake signals an attached amount that is not exactly twice
	// the listing price.
	ErrInvalidStake = errors.New("mediator: stake must be twice the product price")
	// ErrUnauthorized signals a caller that does not hold the required role.
	ErrUnauthorized = errors.New("mediator: caller does not hold the required role")
)
