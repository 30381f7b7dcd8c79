package state

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"medchain/core/types"
	"medchain/native/mediator"
	"medchain/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func testAddr(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, 20)
}

func TestAccountRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	addr := testAddr(0x01)

	account := &types.Account{Nonce: 3, Balance: big.NewInt(2_000_000)}
	require.NoError(t, mgr.PutAccount(addr, account))

	stored, err := mgr.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3), stored.Nonce)
	require.Zero(t, stored.Balance.Cmp(big.NewInt(2_000_000)))
	require.NotSame(t, account.Balance, stored.Balance, "balance pointer must not alias")
}

func TestGetAccountDefaultsToZero(t *testing.T) {
	mgr := newTestManager(t)

	account, err := mgr.GetAccount(testAddr(0x09))
	require.NoError(t, err)
	require.NotNil(t, account.Balance)
	require.Zero(t, account.Balance.Sign())
	require.Zero(t, account.Nonce)
}

func TestPutAccountRejectsNegativeBalance(t *testing.T) {
	mgr := newTestManager(t)
	err := mgr.PutAccount(testAddr(0x01), &types.Account{Balance: big.NewInt(-1)})
	require.Error(t, err)
}

func TestPutAccountRejectsEmptyAddress(t *testing.T) {
	mgr := newTestManager(t)
	require.Error(t, mgr.PutAccount(nil, &types.Account{Balance: big.NewInt(0)}))
	_, err := mgr.GetAccount(nil)
	require.Error(t, err)
}

func TestMediatorGetOnFreshStoreReturnsNil(t *testing.T) {
	mgr := newTestManager(t)
	inst, err := mgr.MediatorGet()
	require.NoError(t, err)
	require.Nil(t, inst)
}

func TestMediatorRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	var sellerAddr, buyerAddr [20]byte
	copy(sellerAddr[:], testAddr(0x01))
	copy(buyerAddr[:], testAddr(0x02))

	inst := &mediator.Instance{
		Listing:   mediator.Listing{ItemID: 42, Price: big.NewInt(1_000_000)},
		Seller:    sellerAddr,
		SellerSet: true,
		Buyer:     buyerAddr,
		BuyerSet:  true,
	}
	require.NoError(t, mgr.MediatorPut(inst))

	stored, err := mgr.MediatorGet()
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, uint64(42), stored.Listing.ItemID)
	require.Zero(t, stored.Listing.Price.Cmp(big.NewInt(1_000_000)))
	require.Equal(t, sellerAddr, stored.Seller)
	require.Equal(t, buyerAddr, stored.Buyer)
	require.True(t, stored.SellerSet)
	require.True(t, stored.BuyerSet)
	require.Equal(t, mediator.PhaseFullyStaked, stored.Phase())
	require.NotSame(t, inst.Listing.Price, stored.Listing.Price)
}

func TestMediatorPutRejectsInvalidInstance(t *testing.T) {
	mgr := newTestManager(t)

	var buyerAddr [20]byte
	copy(buyerAddr[:], testAddr(0x02))
	inst := &mediator.Instance{
		Listing:  mediator.Listing{Price: big.NewInt(0)},
		Buyer:    buyerAddr,
		BuyerSet: true,
	}
	require.Error(t, mgr.MediatorPut(inst), "buyer without seller must be rejected")
}

func TestMediatorPutZeroesStaleAddresses(t *testing.T) {
	mgr := newTestManager(t)

	var stale [20]byte
	copy(stale[:], testAddr(0x07))
	inst := &mediator.Instance{
		Listing: mediator.Listing{Price: big.NewInt(0)},
		Seller:  stale,
		Buyer:   stale,
	}
	require.NoError(t, mgr.MediatorPut(inst))

	stored, err := mgr.MediatorGet()
	require.NoError(t, err)
	require.Equal(t, [20]byte{}, stored.Seller)
	require.Equal(t, [20]byte{}, stored.Buyer)
}

func TestVaultAddressIsStableAndNonZero(t *testing.T) {
	mgr := newTestManager(t)
	vault := mgr.MediatorVaultAddress()
	require.NotEqual(t, [20]byte{}, vault)
	require.Equal(t, vault, mgr.MediatorVaultAddress())
}

func TestManagerSatisfiesEngineState(t *testing.T) {
	mgr := newTestManager(t)
	engine := mediator.NewEngine()
	engine.SetState(mgr)

	var sellerAddr, buyerAddr [20]byte
	copy(sellerAddr[:], testAddr(0x01))
	copy(buyerAddr[:], testAddr(0x02))
	require.NoError(t, mgr.PutAccount(sellerAddr[:], &types.Account{Balance: big.NewInt(2_000_000)}))
	require.NoError(t, mgr.PutAccount(buyerAddr[:], &types.Account{Balance: big.NewInt(2_000_000)}))

	_, err := engine.Sell(1, big.NewInt(1_000_000), sellerAddr, big.NewInt(2_000_000))
	require.NoError(t, err)
	_, err = engine.Buy(1, buyerAddr, big.NewInt(2_000_000))
	require.NoError(t, err)

	vaultAcc, err := mgr.GetAccount(func() []byte { v := mgr.MediatorVaultAddress(); return v[:] }())
	require.NoError(t, err)
	require.Zero(t, vaultAcc.Balance.Cmp(big.NewInt(4_000_000)))

	_, err = engine.Received(1, buyerAddr)
	require.NoError(t, err)

	buyerAcc, err := mgr.GetAccount(buyerAddr[:])
	require.NoError(t, err)
	require.Zero(t, buyerAcc.Balance.Cmp(big.NewInt(1_000_000)))
	sellerAcc, err := mgr.GetAccount(sellerAddr[:])
	require.NoError(t, err)
	require.Zero(t, sellerAcc.Balance.Cmp(big.NewInt(3_000_000)))

	stored, err := mgr.MediatorGet()
	require.NoError(t, err)
	require.Equal(t, mediator.PhaseEmpty, stored.Phase())
}
