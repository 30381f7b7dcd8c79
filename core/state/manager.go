package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"medchain/core/types"
	"medchain/native/mediator"
	"medchain/storage"
)

var (
	accountPrefix      = []byte("account:")
	mediatorStateKey   = ethcrypto.Keccak256([]byte("medchain/instance"))
	mediatorVaultLabel = []byte("medchain/vault")
)

// Manager reads and writes ledger state through a key-value store. Keys are
// keccak-hashed and values RLP-encoded, so the layout is stable across
// backends.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

type accountRecord struct {
	Nonce   uint64
	Balance *big.Int
}

type mediatorRecord struct {
	ItemID    uint64
	Price     *big.Int
	Seller    [20]byte
	SellerSet bool
	Buyer     [20]byte
	BuyerSet  bool
}

// GetAccount reconstructs the account stored under the provided address. An
// address without prior state yields a zero-balance account.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	record := new(accountRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, err
	}
	account := &types.Account{Nonce: record.Nonce, Balance: big.NewInt(0)}
	if record.Balance != nil {
		account.Balance = new(big.Int).Set(record.Balance)
	}
	return account, nil
}

// PutAccount persists the provided account state under the supplied address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("nil account")
	}
	record := &accountRecord{Nonce: account.Nonce, Balance: big.NewInt(0)}
	if account.Balance != nil {
		if account.Balance.Sign() < 0 {
			return fmt.Errorf("account balance must not be negative")
		}
		record.Balance = new(big.Int).Set(account.Balance)
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// MediatorGet loads the escrow instance. A store without prior state yields
// (nil, nil); the engine treats that as an empty instance.
func (m *Manager) MediatorGet() (*mediator.Instance, error) {
	data, err := m.db.Get(mediatorStateKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := new(mediatorRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, err
	}
	inst := &mediator.Instance{
		Listing:   mediator.Listing{ItemID: record.ItemID, Price: big.NewInt(0)},
		Seller:    record.Seller,
		SellerSet: record.SellerSet,
		Buyer:     record.Buyer,
		BuyerSet:  record.BuyerSet,
	}
	if record.Price != nil {
		inst.Listing.Price = new(big.Int).Set(record.Price)
	}
	return inst, nil
}

// MediatorPut validates and persists the escrow instance.
func (m *Manager) MediatorPut(inst *mediator.Instance) error {
	sanitized, err := mediator.SanitizeInstance(inst)
	if err != nil {
		return err
	}
	record := &mediatorRecord{
		ItemID:    sanitized.Listing.ItemID,
		Price:     sanitized.Listing.Price,
		Seller:    sanitized.Seller,
		SellerSet: sanitized.SellerSet,
		Buyer:     sanitized.Buyer,
		BuyerSet:  sanitized.BuyerSet,
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return m.db.Put(mediatorStateKey, encoded)
}

// MediatorVaultAddress derives the address of the module vault that holds
// staked funds between deposit and resolution. No key exists for this
// address; only the engine's disbursement logic can move funds out of it.
func (m *Manager) MediatorVaultAddress() [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256(mediatorVaultLabel)
	copy(addr[:], hash[12:])
	return addr
}
