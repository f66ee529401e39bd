package folio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// AllocationWeighting decides how a position's value is spread over its tags.
// Split returns the share of value assigned to each tag.
type AllocationWeighting interface {
	Name() string
	Split(value decimal.Decimal, tags []string) map[string]decimal.Decimal
}

// EvenSplit divides the value equally among all tags.
type EvenSplit struct{}

func (EvenSplit) Name() string { return "even_split" }

func (EvenSplit) Split(value decimal.Decimal, tags []string) map[string]decimal.Decimal {
	if len(tags) == 0 {
		return nil
	}
	share := value.Div(decimal.NewFromInt(int64(len(tags))))
	out := make(map[string]decimal.Decimal, len(tags))
	for _, tag := range tags {
		out[tag] = share
	}
	return out
}

// FullWeight counts the whole value under every tag, so slices overlap.
type FullWeight struct{}

func (FullWeight) Name() string { return "full_weight" }

func (FullWeight) Split(value decimal.Decimal, tags []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(tags))
	for _, tag := range tags {
		out[tag] = value
	}
	return out
}

// PrimaryTag assigns the whole value to the alphabetically first tag.
type PrimaryTag struct{}

func (PrimaryTag) Name() string { return "primary_tag" }

func (PrimaryTag) Split(value decimal.Decimal, tags []string) map[string]decimal.Decimal {
	if len(tags) == 0 {
		return nil
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return map[string]decimal.Decimal{sorted[0]: value}
}

// WeightingByName resolves a configured weighting strategy.
func WeightingByName(name string) (AllocationWeighting, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "even_split", "even":
		return EvenSplit{}, nil
	case "full_weight", "full":
		return FullWeight{}, nil
	case "primary_tag", "primary":
		return PrimaryTag{}, nil
	}
	return nil, fmt.Errorf("unknown allocation weighting: %s", name)
}

// AllocationSlice is one labelled share of the portfolio value.
type AllocationSlice struct {
	Label      string `json:"label"`
	Value      Amount `json:"value"`
	Percentage Amount `json:"percentage"`
}

// GroupAllocation is the tag breakdown of one portfolio group.
type GroupAllocation struct {
	PortfolioID int64             `json:"portfolio_id"`
	Name        string            `json:"name"`
	Total       Amount            `json:"total"`
	Slices      []AllocationSlice `json:"slices"`
}

// allocationBuilder accumulates values per label, keeping first-seen order for ties.
type allocationBuilder struct {
	values map[string]decimal.Decimal
	order  []string
}

func newAllocationBuilder() *allocationBuilder {
	return &allocationBuilder{values: make(map[string]decimal.Decimal)}
}

func (b *allocationBuilder) add(label string, value decimal.Decimal) {
	if _, ok := b.values[label]; !ok {
		b.order = append(b.order, label)
	}
	b.values[label] = b.values[label].Add(value)
}

// slices drops non-positive values and computes percentages against total,
// ordered by value descending.
func (b *allocationBuilder) slices(total decimal.Decimal) []AllocationSlice {
	out := make([]AllocationSlice, 0, len(b.order))
	for _, label := range b.order {
		v := b.values[label]
		if !v.IsPositive() {
			continue
		}
		out = append(out, AllocationSlice{
			Label:      label,
			Value:      amt(v),
			Percentage: amt(percentOf(v, total)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value.GreaterThan(out[j].Value.Decimal)
	})
	return out
}

func (b *allocationBuilder) sum() decimal.Decimal {
	total := decimal.Zero
	for _, v := range b.values {
		total = total.Add(v)
	}
	return total
}

// tagAllocation spreads each position's current value over its tags.
// Positions without tags are counted under UntaggedLabel.
func tagAllocation(positions []ValuedPosition, weighting AllocationWeighting, total decimal.Decimal) []AllocationSlice {
	b := newAllocationBuilder()
	for _, p := range positions {
		tags := p.Tags
		if len(tags) == 0 {
			tags = []string{UntaggedLabel}
		}
		for tag, v := range orderedShares(weighting.Split(p.CurrentValue.Decimal, tags), tags) {
			b.add(tag, v)
		}
	}
	return b.slices(total)
}

// groupAllocations builds one breakdown per portfolio group, counting only
// the tags that belong to the group. Percentages are relative to the group total.
func groupAllocations(positions []ValuedPosition, groups []Portfolio, weighting AllocationWeighting) []GroupAllocation {
	out := make([]GroupAllocation, 0, len(groups))
	for _, g := range groups {
		member := make(map[string]bool, len(g.Tags))
		for _, t := range g.Tags {
			member[t] = true
		}
		b := newAllocationBuilder()
		for _, p := range positions {
			var matching []string
			for _, t := range p.Tags {
				if member[t] {
					matching = append(matching, t)
				}
			}
			if len(matching) == 0 {
				continue
			}
			for tag, v := range orderedShares(weighting.Split(p.CurrentValue.Decimal, matching), matching) {
				b.add(tag, v)
			}
		}
		total := b.sum()
		out = append(out, GroupAllocation{
			PortfolioID: g.ID,
			Name:        g.Name,
			Total:       amt(total),
			Slices:      b.slices(total),
		})
	}
	return out
}

// investmentAllocation has one slice per position.
func investmentAllocation(positions []ValuedPosition, total decimal.Decimal) []AllocationSlice {
	b := newAllocationBuilder()
	for _, p := range positions {
		b.add(p.Asset.Name, p.CurrentValue.Decimal)
	}
	return b.slices(total)
}

// orderedShares iterates shares following the tag order so slice insertion is deterministic.
func orderedShares(shares map[string]decimal.Decimal, tags []string) func(yield func(string, decimal.Decimal) bool) {
	return func(yield func(string, decimal.Decimal) bool) {
		for _, tag := range tags {
			v, ok := shares[tag]
			if !ok {
				continue
			}
			if !yield(tag, v) {
				return
			}
		}
	}
}
