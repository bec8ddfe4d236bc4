package aggregation

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

var _ storage.FoldFunc = Fold

func rec(wallet, distributor, token, amount string) *domain.TransferRecord {
	return &domain.TransferRecord{
		WalletAddress: wallet,
		Distributor:   distributor,
		Token:         token,
		Amount:        decimal.RequireFromString(amount),
	}
}

func TestAggregate_SumsByKey(t *testing.T) {
	totals := Aggregate([]*domain.TransferRecord{
		rec("W1", "D1", "sol", "1.5"),
		rec("W1", "D1", "sol", "2.25"),
		rec("W1", "D1", "BONK", "100"),
		rec("W1", "D2", "sol", "0.1"),
		rec("W2", "D1", "sol", "7"),
	})

	assert.Equal(t, "3.75", totals.Get("W1", "D1", "sol").String())
	assert.Equal(t, "100", totals.Get("W1", "D1", "BONK").String())
	assert.Equal(t, "0.1", totals.Get("W1", "D2", "sol").String())
	assert.Equal(t, "7", totals.Get("W2", "D1", "sol").String())
	assert.True(t, totals.Get("W3", "D1", "sol").IsZero())

	assert.Len(t, totals, 2)
	assert.Len(t, totals["W1"], 2)
	assert.Len(t, totals["W1"]["D1"], 2)
}

func TestAggregate_Empty(t *testing.T) {
	totals := Aggregate(nil)
	assert.Empty(t, totals)
	assert.Empty(t, totals.Deltas())
}

func TestAggregate_FiveSOLScenario(t *testing.T) {
	totals := Aggregate([]*domain.TransferRecord{
		{WalletAddress: "W1", Distributor: "D", Token: domain.NativeSymbol, Amount: decimal.New(5_000_000_000, -9)},
	})
	assert.True(t, decimal.NewFromInt(5).Equal(totals.Get("W1", "D", "sol")))
}

func TestAggregate_BatchAdditivity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	wallets := []string{"W1", "W2", "W3", "W4"}
	distributors := []string{"D1", "D2"}
	tokens := []string{"sol", "BONK", "JUP"}

	records := make([]*domain.TransferRecord, 500)
	for i := range records {
		records[i] = rec(
			wallets[rng.Intn(len(wallets))],
			distributors[rng.Intn(len(distributors))],
			tokens[rng.Intn(len(tokens))],
			fmt.Sprintf("%d.%09d", rng.Intn(1000), rng.Intn(1_000_000_000)),
		)
	}

	whole := Aggregate(records)

	for _, batchSize := range []int{1, 7, 64, 499, 500} {
		merged := make(Totals)
		for start := 0; start < len(records); start += batchSize {
			end := min(start+batchSize, len(records))
			merged.Merge(Aggregate(records[start:end]))
		}

		wantDeltas := whole.Deltas()
		gotDeltas := merged.Deltas()
		require.Len(t, gotDeltas, len(wantDeltas), "batch size %d", batchSize)
		for i := range wantDeltas {
			assert.Equal(t, wantDeltas[i].WalletAddress, gotDeltas[i].WalletAddress)
			assert.True(t, wantDeltas[i].Amount.Equal(gotDeltas[i].Amount),
				"batch size %d: %s/%s/%s want %s got %s", batchSize,
				wantDeltas[i].WalletAddress, wantDeltas[i].Distributor, wantDeltas[i].Token,
				wantDeltas[i].Amount, gotDeltas[i].Amount)
		}
	}
}

func TestDeltas_Sorted(t *testing.T) {
	deltas := Fold([]*domain.TransferRecord{
		rec("W2", "D1", "sol", "1"),
		rec("W1", "D2", "sol", "1"),
		rec("W1", "D1", "sol", "1"),
		rec("W1", "D1", "BONK", "1"),
	})

	require.Len(t, deltas, 4)
	got := make([]string, len(deltas))
	for i, d := range deltas {
		got[i] = d.WalletAddress + "/" + d.Distributor + "/" + d.Token
	}
	assert.Equal(t, []string{"W1/D1/BONK", "W1/D1/sol", "W1/D2/sol", "W2/D1/sol"}, got)
}
