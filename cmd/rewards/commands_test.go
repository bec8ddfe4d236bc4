package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-rewards-indexer/internal/domain"
)

func TestWSEndpoint(t *testing.T) {
	got, err := wsEndpoint("wss://mainnet.helius-rpc.com", "key")
	require.NoError(t, err)
	assert.Equal(t, "wss://mainnet.helius-rpc.com?api-key=key", got)

	got, err = wsEndpoint("wss://mainnet.helius-rpc.com/?api-key=mine", "key")
	require.NoError(t, err)
	assert.Equal(t, "wss://mainnet.helius-rpc.com/?api-key=mine", got)
}

func TestFillRegistration(t *testing.T) {
	reg := domain.SupportedDistributor{Name: "cli", Address: "D1"}
	fillRegistration(&reg, "cfg", "Mint", "Dev")
	assert.Equal(t, "cli", reg.Name)
	assert.Equal(t, "Mint", reg.TokenMint)
	assert.Equal(t, "Dev", reg.DevWallet)
}

func TestToWalletOutput(t *testing.T) {
	w := &domain.WalletRewards{
		WalletAddress: "W1",
		Distributors: map[string]map[string]domain.TokenTotal{
			"D1": {"sol": {TotalAmount: decimal.RequireFromString("1.5")}},
		},
	}
	out := toWalletOutput(w)
	assert.Equal(t, "W1", out.Wallet)
	assert.Equal(t, "1.5", out.Distributors["D1"]["sol"].String())

	empty := toWalletOutput(&domain.WalletRewards{WalletAddress: "W2"})
	assert.Empty(t, empty.Distributors)
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"migrate", "init", "update", "watch", "wallet"}, names)
}
