package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"medchain/crypto"
	nativecommon "medchain/native/common"
	"medchain/native/mediator"
	"medchain/observability"
)

const (
	codeMediatorInvalidParams = -32021
	codeMediatorNotFound      = -32022
	codeMediatorForbidden     = -32023
	codeMediatorConflict      = -32024
	codeMediatorInternal      = -32025
)

type mediatorSellParams struct {
	ItemID  uint64 `json:"itemId"`
	Price   string `json:"price"`
	Caller  string `json:"caller"`
	Deposit string `json:"deposit"`
}

type mediatorBuyParams struct {
	ItemID  uint64 `json:"itemId"`
	Caller  string `json:"caller"`
	Deposit string `json:"deposit"`
}

type mediatorResolveParams struct {
	ItemID uint64 `json:"itemId"`
	Caller string `json:"caller"`
}

type mediatorCreditParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type mediatorBalanceParams struct {
	Address string `json:"address"`
}

type listingJSON struct {
	ItemID uint64 `json:"itemId"`
	Price  string `json:"price"`
	Phase  string `json:"phase"`
	Seller string `json:"seller,omitempty"`
	Buyer  string `json:"buyer,omitempty"`
}

type resolutionJSON struct {
	ItemID       uint64 `json:"itemId"`
	Price        string `json:"price"`
	SellerPayout string `json:"sellerPayout"`
	BuyerPayout  string `json:"buyerPayout"`
}

type balanceJSON struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type eventJSON struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleMediatorSell(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	finish := trackMediator("mediator_sell")
	if len(req.Params) != 1 {
		writeMediatorParamError(w, req.ID, "mediator_sell", finish, "exactly one parameter object expected")
		return
	}
	var params mediatorSellParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeMediatorParamError(w, req.ID, "mediator_sell", finish, err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeMediatorParamError(w, req.ID, "mediator_sell", finish, err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeMediatorParamError(w, req.ID, "mediator_sell", finish, fmt.Sprintf("price: %v", err))
		return
	}
	deposit, err := parseAmount(params.Deposit)
	if err != nil {
		writeMediatorParamError(w, req.ID, "mediator_sell", finish, fmt.Sprintf("deposit: %v", err))
		return
	}
	inst, err := s.node.Sell(params.ItemID, price, caller, deposit)
	if err != nil {
		writeMediatorError(w, req.ID, "mediator_sell", finish, err)
		return
	}
	finish("ok")
	writeResult(w, req.ID, formatListingJSON(inst))
}

func (s *Server) handleMediatorBuy(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	finish := trackMediator("mediator_buy")
	if len(req.Params) != 1 {
		writeMediatorParamError(w, req.ID, "mediator_buy", finish, "exactly one parameter object expected")
		return
	}
	var params mediatorBuyParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeMediatorParamError(w, req.ID, "mediator_buy", finish, err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeMediatorParamError(w, req.ID, "mediator_buy", finish, err.Error())
		return
	}
	deposit, err := parseAmount(params.Deposit)
	if err != nil {
		writeMediatorParamError(w, req.ID, "mediator_buy", finish, fmt.Sprintf("deposit: %v", err))
		return
	}
	inst, err := s.node.Buy(params.ItemID, caller, deposit)
	if err != nil {
		writeMediatorError(w, req.ID, "mediator_buy", finish, err)
		return
	}
	finish("ok")
	writeResult(w, req.ID, formatListingJSON(inst))
}

func (s *Server) handleMediatorReceived(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	finish := trackMediator("mediator_received")
	params, ok := decodeResolveParams(w, req, "mediator_received", finish)
	if !ok {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeMediatorParamError(w, req.ID, "mediator_received", finish, err.Error())
		return
	}
	res, err := s.node.Received(params.ItemID, caller)
	if err != nil {
		writeMediatorError(w, req.ID, "mediator_received", finish, err)
		return
	}
	observability.ModuleMetrics().RecordSettlement("received")
	finish("ok")
	writeResult(w, req.ID, formatResolutionJSON(res))
}

func (s *Server) handleMediatorUnsell(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	finish := trackMediator("mediator_unsell")
	params, ok := decodeResolveParams(w, req, "mediator_unsell", finish)
	if !ok {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeMediatorParamError(w, req.ID, "mediator_unsell", finish, err.Error())
		return
	}
	res, err := s.node.Unsell(params.ItemID, caller)
	if err != nil {
		writeMediatorError(w, req.ID, "mediator_unsell", finish, err)
		return
	}
	observability.ModuleMetrics().RecordSettlement("unsold")
	finish("ok")
	writeResult(w, req.ID, formatResolutionJSON(res))
}

// handleMediatorCredit backs the faucet used on local networks. Production
// deployments leave the auth token unset for this deployment profile or load
// balances at genesis instead.
func (s *Server) handleMediatorCredit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	finish := trackMediator("mediator_credit")
	if len(req.Params) != 1 {
		writeMediatorParamError(w, req.ID, "mediator_credit", finish, "exactly one parameter object expected")
		return
	}
	var params mediatorCreditParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeMediatorParamError(w, req.ID, "mediator_credit", finish, err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeMediatorParamError(w, req.ID, "mediator_credit", finish, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeMediatorParamError(w, req.ID, "mediator_credit", finish, fmt.Sprintf("amount: %v", err))
		return
	}
	if err := s.node.Credit(addr[:], amount); err != nil {
		writeMediatorError(w, req.ID, "mediator_credit", finish, err)
		return
	}
	finish("ok")
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleMediatorGetListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	finish := trackMediator("mediator_getListing")
	if len(req.Params) != 0 {
		writeMediatorParamError(w, req.ID, "mediator_getListing", finish, "no parameters expected")
		return
	}
	inst, err := s.node.Instance()
	if err != nil {
		writeMediatorError(w, req.ID, "mediator_getListing", finish, err)
		return
	}
	finish("ok")
	writeResult(w, req.ID, formatListingJSON(inst))
}

func (s *Server) handleMediatorGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	finish := trackMediator("mediator_getBalance")
	if len(req.Params) != 1 {
		writeMediatorParamError(w, req.ID, "mediator_getBalance", finish, "exactly one parameter object expected")
		return
	}
	var params mediatorBalanceParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeMediatorParamError(w, req.ID, "mediator_getBalance", finish, err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeMediatorParamError(w, req.ID, "mediator_getBalance", finish, err.Error())
		return
	}
	account, err := s.node.GetAccount(addr[:])
	if err != nil {
		writeMediatorError(w, req.ID, "mediator_getBalance", finish, err)
		return
	}
	balance := "0"
	if account.Balance != nil {
		balance = account.Balance.String()
	}
	finish("ok")
	writeResult(w, req.ID, balanceJSON{
		Address: crypto.NewAddress(crypto.MedPrefix, addr[:]).String(),
		Balance: balance,
		Nonce:   account.Nonce,
	})
}

func (s *Server) handleMediatorListEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	finish := trackMediator("mediator_listEvents")
	if len(req.Params) != 0 {
		writeMediatorParamError(w, req.ID, "mediator_listEvents", finish, "no parameters expected")
		return
	}
	events := s.node.Events()
	out := make([]eventJSON, len(events))
	for i := range events {
		out[i] = eventJSON{Type: events[i].Type, Attributes: events[i].Attributes}
	}
	finish("ok")
	writeResult(w, req.ID, out)
}

func decodeResolveParams(w http.ResponseWriter, req *RPCRequest, method string, finish func(string)) (mediatorResolveParams, bool) {
	var params mediatorResolveParams
	if len(req.Params) != 1 {
		writeMediatorParamError(w, req.ID, method, finish, "exactly one parameter object expected")
		return params, false
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeMediatorParamError(w, req.ID, method, finish, err.Error())
		return params, false
	}
	return params, true
}

func formatListingJSON(inst *mediator.Instance) listingJSON {
	if inst == nil {
		return listingJSON{Price: "0", Phase: mediator.PhaseEmpty.String()}
	}
	out := listingJSON{
		ItemID: inst.Listing.ItemID,
		Price:  "0",
		Phase:  inst.Phase().String(),
	}
	if inst.Listing.Price != nil {
		out.Price = inst.Listing.Price.String()
	}
	if inst.SellerSet {
		out.Seller = crypto.NewAddress(crypto.MedPrefix, append([]byte(nil), inst.Seller[:]...)).String()
	}
	if inst.BuyerSet {
		out.Buyer = crypto.NewAddress(crypto.MedPrefix, append([]byte(nil), inst.Buyer[:]...)).String()
	}
	return out
}

func formatResolutionJSON(res *mediator.Resolution) resolutionJSON {
	if res == nil {
		return resolutionJSON{Price: "0", SellerPayout: "0", BuyerPayout: "0"}
	}
	return resolutionJSON{
		ItemID:       res.ItemID,
		Price:        bigIntString(res.Price),
		SellerPayout: bigIntString(res.SellerPayout),
		BuyerPayout:  bigIntString(res.BuyerPayout),
	}
}

func bigIntString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	if decoded.Prefix() != crypto.MedPrefix {
		return [20]byte{}, fmt.Errorf("unexpected address prefix %q", decoded.Prefix())
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

// parseAmount accepts a base-10 amount string. Zero is allowed: a zero-price
// listing is a legitimate giveaway and its stakes are zero as well.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

// trackMediator starts the request timer and returns the completion callback
// invoked with the request outcome label.
func trackMediator(method string) func(outcome string) {
	metrics := observability.ModuleMetrics()
	start := time.Now()
	return func(outcome string) {
		metrics.RecordRequest(method, outcome)
		metrics.ObserveLatency(method, time.Since(start))
	}
}

func writeMediatorParamError(w http.ResponseWriter, id interface{}, method string, finish func(string), detail string) {
	observability.ModuleMetrics().RecordError(method, "invalid_params")
	finish("error")
	writeError(w, http.StatusBadRequest, id, codeMediatorInvalidParams, "invalid_params", detail)
}

func writeMediatorError(w http.ResponseWriter, id interface{}, method string, finish func(string), err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeMediatorInternal
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, mediator.ErrInvalidStake):
		status = http.StatusBadRequest
		code = codeMediatorInvalidParams
		message = "invalid_params"
	case errors.Is(err, mediator.ErrProductNotSet),
		errors.Is(err, mediator.ErrSellerNotSet),
		errors.Is(err, mediator.ErrBuyerNotSet):
		status = http.StatusNotFound
		code = codeMediatorNotFound
		message = "not_found"
	case errors.Is(err, mediator.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeMediatorForbidden
		message = "forbidden"
	case errors.Is(err, mediator.ErrAlreadyInUse),
		errors.Is(err, nativecommon.ErrModulePaused),
		strings.Contains(err.Error(), "insufficient balance"):
		status = http.StatusConflict
		code = codeMediatorConflict
		message = "conflict"
	}
	observability.ModuleMetrics().RecordError(method, message)
	finish("error")
	writeError(w, status, id, code, message, data)
}
