// Package merger deduplicates token records reported by several sources and
// detects significant changes between two merged snapshots.
package merger

import (
	"math"
	"sort"
	"strings"

	"meme-coin-aggregator/internal/models"
)

// VolumeSpikePercent is the relative base-volume increase that marks a token
// as changed regardless of its price movement
const VolumeSpikePercent = 50.0

// Merge groups records by case-insensitive address and collapses each group
// into one record. Groups keep the order in which their address first
// appeared; singleton groups are returned unchanged.
func Merge(records []models.Token) []models.Token {
	order := make([]string, 0, len(records))
	groups := make(map[string][]models.Token, len(records))

	for _, rec := range records {
		key := rec.Key()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	merged := make([]models.Token, 0, len(order))
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			merged = append(merged, group[0])
			continue
		}
		merged = append(merged, mergeGroup(group))
	}
	return merged
}

// mergeGroup collapses records for one address. The most recently observed
// record supplies identity and spot prices.
func mergeGroup(group []models.Token) models.Token {
	sorted := make([]models.Token, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastUpdated.After(sorted[j].LastUpdated)
	})
	base := sorted[0]

	out := models.Token{
		Address:     base.Address,
		Name:        base.Name,
		Ticker:      base.Ticker,
		PriceSOL:    base.PriceSOL,
		PriceUSD:    copyFloat(base.PriceUSD),
		DexID:       base.DexID,
		LastUpdated: base.LastUpdated,
	}

	protocols := make([]string, 0, len(sorted))
	sources := make([]string, 0, len(sorted))
	seenSource := make(map[string]struct{})

	var (
		marketCapUSD, volumeUSD, liquidityUSD optional
		weight, change1h                      float64
		change24h, change7d                   weighted
	)

	for _, t := range sorted {
		out.MarketCapSOL = math.Max(out.MarketCapSOL, t.MarketCapSOL)
		marketCapUSD.max(t.MarketCapUSD)

		out.VolumeSOL += t.VolumeSOL
		volumeUSD.sum(t.VolumeUSD)
		out.LiquiditySOL += t.LiquiditySOL
		liquidityUSD.sum(t.LiquidityUSD)
		out.TransactionCount += t.TransactionCount

		weight += t.VolumeSOL
		change1h += t.PriceChange1h * t.VolumeSOL
		change24h.add(t.PriceChange24h, t.VolumeSOL)
		change7d.add(t.PriceChange7d, t.VolumeSOL)

		if t.LastUpdated.After(out.LastUpdated) {
			out.LastUpdated = t.LastUpdated
		}

		protocols = append(protocols, t.Protocol)
		for _, src := range t.DataSources {
			if _, ok := seenSource[src]; ok {
				continue
			}
			seenSource[src] = struct{}{}
			sources = append(sources, src)
		}
	}

	out.MarketCapUSD = marketCapUSD.value()
	out.VolumeUSD = volumeUSD.value()
	out.LiquidityUSD = liquidityUSD.value()
	out.PriceChange1h = ratio(change1h, weight)
	out.PriceChange24h = change24h.value(weight)
	out.PriceChange7d = change7d.value(weight)
	out.Protocol = strings.Join(protocols, ", ")
	out.DataSources = sources

	return out
}

// optional accumulates a quote-denominated field that sources may omit. The
// result stays absent only if every member omitted it.
type optional struct {
	acc     float64
	present bool
}

func (o *optional) sum(v *float64) {
	if v == nil {
		return
	}
	o.acc += *v
	o.present = true
}

func (o *optional) max(v *float64) {
	if v == nil {
		return
	}
	if !o.present || *v > o.acc {
		o.acc = *v
	}
	o.present = true
}

func (o *optional) value() *float64 {
	if !o.present {
		return nil
	}
	return models.Float(o.acc)
}

// weighted accumulates an optional change percentage. Members without the
// field contribute zero at their full weight.
type weighted struct {
	acc     float64
	present bool
}

func (w *weighted) add(v *float64, weight float64) {
	if v == nil {
		return
	}
	w.acc += *v * weight
	w.present = true
}

func (w *weighted) value(totalWeight float64) *float64 {
	if !w.present {
		return nil
	}
	return models.Float(ratio(w.acc, totalWeight))
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return models.Float(*v)
}

// DetectChanges returns the records of current that are new relative to
// previous, moved in base price by at least thresholdPercent (either
// direction), or grew in base volume by at least VolumeSpikePercent. A zero
// previous price or volume never qualifies under its percentage rule.
func DetectChanges(previous, current []models.Token, thresholdPercent float64) []models.Token {
	before := make(map[string]*models.Token, len(previous))
	for i := range previous {
		before[previous[i].Key()] = &previous[i]
	}

	changed := make([]models.Token, 0)
	for _, t := range current {
		old, ok := before[t.Key()]
		if !ok {
			changed = append(changed, t)
			continue
		}

		if old.PriceSOL != 0 {
			pct := math.Abs(t.PriceSOL-old.PriceSOL) * 100 / old.PriceSOL
			if pct >= thresholdPercent {
				changed = append(changed, t)
				continue
			}
		}

		if old.VolumeSOL != 0 {
			pct := (t.VolumeSOL - old.VolumeSOL) * 100 / old.VolumeSOL
			if pct >= VolumeSpikePercent {
				changed = append(changed, t)
			}
		}
	}
	return changed
}
