package feed

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Directory resolves aggregator and feed addresses to live instances.
type Directory struct {
	mu          sync.RWMutex
	aggregators map[common.Address]Aggregator
	feeds       map[common.Address]PriceFeed
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		aggregators: make(map[common.Address]Aggregator),
		feeds:       make(map[common.Address]PriceFeed),
	}
}

// RegisterAggregator makes agg resolvable by its address.
func (d *Directory) RegisterAggregator(agg Aggregator) error {
	if agg == nil {
		return fmt.Errorf("feed directory: nil aggregator")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.aggregators[agg.Address()]; exists {
		return fmt.Errorf("feed directory: aggregator %s already registered", agg.Address().Hex())
	}
	d.aggregators[agg.Address()] = agg
	return nil
}

// RegisterFeed makes f resolvable by its address.
func (d *Directory) RegisterFeed(f PriceFeed) error {
	if f == nil {
		return fmt.Errorf("feed directory: nil feed")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.feeds[f.Address()]; exists {
		return fmt.Errorf("feed directory: feed %s already registered", f.Address().Hex())
	}
	d.feeds[f.Address()] = f
	return nil
}

// Aggregator looks up an aggregator by address.
func (d *Directory) Aggregator(addr common.Address) (Aggregator, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	agg, ok := d.aggregators[addr]
	return agg, ok
}

// Feed looks up a price feed by address.
func (d *Directory) Feed(addr common.Address) (PriceFeed, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.feeds[addr]
	return f, ok
}

// Aggregators lists registered aggregators ordered by address.
func (d *Directory) Aggregators() []Aggregator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Aggregator, 0, len(d.aggregators))
	for _, agg := range d.aggregators {
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address().Bytes(), out[j].Address().Bytes()) < 0
	})
	return out
}

// Feeds lists registered feeds ordered by address.
func (d *Directory) Feeds() []PriceFeed {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PriceFeed, 0, len(d.feeds))
	for _, f := range d.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address().Bytes(), out[j].Address().Bytes()) < 0
	})
	return out
}
