package merger

import (
	"testing"
	"time"

	"meme-coin-aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func token(address string, volume float64, change1h float64, observed time.Time, source string) models.Token {
	return models.Token{
		Address:       address,
		Name:          "Test Token",
		Ticker:        "TEST",
		PriceSOL:      1.0,
		MarketCapSOL:  1000,
		VolumeSOL:     volume,
		LiquiditySOL:  200,
		PriceChange1h: change1h,
		Protocol:      "Raydium",
		LastUpdated:   observed,
		DataSources:   []string{source},
	}
}

func TestMerge(t *testing.T) {
	t.Run("DeduplicatedInputIsReturnedUnchanged", func(t *testing.T) {
		in := []models.Token{
			token("ABC123", 500, 5, t0, "dexscreener"),
			token("XYZ789", 600, 10, t0, "jupiter"),
		}
		in[0].PriceUSD = models.Float(0.5)

		once := Merge(in)
		twice := Merge(once)

		assert.Equal(t, in, once)
		assert.Equal(t, once, twice)
	})

	t.Run("GroupAggregatesFollowTheMergeRules", func(t *testing.T) {
		older := token("ABC123", 500, 5, t0, "dexscreener")
		older.MarketCapSOL = 1000
		older.LiquiditySOL = 200
		older.TransactionCount = 100
		older.VolumeUSD = models.Float(50)
		older.DexID = "raydium"

		newer := token("abc123", 300, 6, t0.Add(time.Second), "jupiter")
		newer.Name = "Renamed"
		newer.PriceSOL = 1.1
		newer.MarketCapSOL = 1100
		newer.LiquiditySOL = 150
		newer.TransactionCount = 50
		newer.Protocol = "Jupiter"

		merged := Merge([]models.Token{older, newer})
		require.Len(t, merged, 1)
		m := merged[0]

		assert.Equal(t, "abc123", m.Address)
		assert.Equal(t, "Renamed", m.Name)
		assert.Equal(t, 1.1, m.PriceSOL)
		assert.Equal(t, 800.0, m.VolumeSOL)
		assert.Equal(t, 1100.0, m.MarketCapSOL)
		assert.Equal(t, 350.0, m.LiquiditySOL)
		assert.Equal(t, int64(150), m.TransactionCount)
		assert.InDelta(t, 5.375, m.PriceChange1h, 1e-9)
		assert.Equal(t, []string{"jupiter", "dexscreener"}, m.DataSources)
		assert.Equal(t, "Jupiter, Raydium", m.Protocol)
		assert.Equal(t, t0.Add(time.Second), m.LastUpdated)
		require.NotNil(t, m.VolumeUSD)
		assert.Equal(t, 50.0, *m.VolumeUSD)
		assert.Nil(t, m.MarketCapUSD)
		assert.Nil(t, m.PriceChange24h)
	})

	t.Run("ZeroTotalVolumeGivesZeroChange", func(t *testing.T) {
		a := token("A", 0, 12, t0, "dexscreener")
		b := token("a", 0, -4, t0, "jupiter")
		a.PriceChange24h = models.Float(3)

		m := Merge([]models.Token{a, b})[0]
		assert.Equal(t, 0.0, m.PriceChange1h)
		require.NotNil(t, m.PriceChange24h)
		assert.Equal(t, 0.0, *m.PriceChange24h)
	})

	t.Run("OptionalChangeCountsMissingMembersAsZero", func(t *testing.T) {
		a := token("A", 100, 0, t0, "dexscreener")
		a.PriceChange24h = models.Float(10)
		b := token("A", 300, 0, t0, "jupiter")

		m := Merge([]models.Token{a, b})[0]
		require.NotNil(t, m.PriceChange24h)
		assert.InDelta(t, 2.5, *m.PriceChange24h, 1e-9)
	})

	t.Run("GroupsKeepFirstAppearanceOrder", func(t *testing.T) {
		in := []models.Token{
			token("B", 1, 0, t0, "dexscreener"),
			token("A", 1, 0, t0, "dexscreener"),
			token("b", 1, 0, t0, "jupiter"),
		}

		out := Merge(in)
		require.Len(t, out, 2)
		assert.Equal(t, "B", out[0].Address)
		assert.Equal(t, []string{"dexscreener", "jupiter"}, out[0].DataSources)
		assert.Equal(t, "A", out[1].Address)
	})

	t.Run("SharedSourcesAreNotDuplicated", func(t *testing.T) {
		a := token("A", 1, 0, t0, "dexscreener")
		b := token("A", 1, 0, t0.Add(time.Minute), "dexscreener")

		m := Merge([]models.Token{a, b})[0]
		assert.Equal(t, []string{"dexscreener"}, m.DataSources)
		assert.Equal(t, "Raydium, Raydium", m.Protocol)
	})
}

func TestDetectChanges(t *testing.T) {
	base := func(price, volume float64) models.Token {
		tok := token("ABC123", volume, 0, t0, "dexscreener")
		tok.PriceSOL = price
		return tok
	}

	t.Run("NewAddressIsAChange", func(t *testing.T) {
		changes := DetectChanges(nil, []models.Token{base(1, 1)}, 5)
		assert.Len(t, changes, 1)
	})

	t.Run("PriceExactlyAtThresholdIsIncluded", func(t *testing.T) {
		changes := DetectChanges([]models.Token{base(100, 500)}, []models.Token{base(105, 500)}, 5)
		assert.Len(t, changes, 1)
	})

	t.Run("PriceJustBelowThresholdIsExcluded", func(t *testing.T) {
		changes := DetectChanges([]models.Token{base(100, 500)}, []models.Token{base(104.9999, 500)}, 5)
		assert.Empty(t, changes)
	})

	t.Run("PriceDropCountsInAbsoluteValue", func(t *testing.T) {
		changes := DetectChanges([]models.Token{base(100, 500)}, []models.Token{base(90, 500)}, 5)
		assert.Len(t, changes, 1)
	})

	t.Run("VolumeSpikeFlagsSubThresholdPriceMove", func(t *testing.T) {
		changes := DetectChanges([]models.Token{base(100, 1000)}, []models.Token{base(101, 1500)}, 5)
		assert.Len(t, changes, 1)
	})

	t.Run("VolumeDropIsNotASpike", func(t *testing.T) {
		changes := DetectChanges([]models.Token{base(100, 1000)}, []models.Token{base(101, 100)}, 5)
		assert.Empty(t, changes)
	})

	t.Run("ZeroPreviousValuesDoNotDivide", func(t *testing.T) {
		changes := DetectChanges([]models.Token{base(0, 0)}, []models.Token{base(5, 5000)}, 5)
		assert.Empty(t, changes)
	})

	t.Run("AddressesMatchCaseInsensitively", func(t *testing.T) {
		old := base(100, 500)
		cur := base(100, 500)
		cur.Address = "abc123"

		assert.Empty(t, DetectChanges([]models.Token{old}, []models.Token{cur}, 5))
	})
}
