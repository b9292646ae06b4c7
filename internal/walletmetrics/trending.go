package walletmetrics

import (
	"sort"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// TrendingWallet is one row of the trending ranking
type TrendingWallet struct {
	Wallet string `json:"wallet"`
	Hits   int64  `json:"hits"`
}

type observation struct {
	hits int64
	seq  uint64 // access order; higher is more recent
}

// observations remembers the last known hit count and access order of
// recently touched wallets. Least recently touched wallets fall out first.
type observations struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, observation]
	seq uint64
}

func newObservations(capacity int) *observations {
	if capacity <= 0 {
		capacity = 10000
	}
	l, err := simplelru.NewLRU[string, observation](capacity, nil)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &observations{lru: l}
}

// record stores hits for wallet and marks it most recently accessed
func (o *observations) record(wallet string, hits int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.seq++
	o.lru.Add(wallet, observation{hits: hits, seq: o.seq})
}

// touch marks wallet accessed, keeping its hit count. Unknown wallets are
// recorded with hits.
func (o *observations) touch(wallet string, hits int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if prev, ok := o.lru.Peek(wallet); ok && prev.hits > hits {
		hits = prev.hits
	}
	o.seq++
	o.lru.Add(wallet, observation{hits: hits, seq: o.seq})
}

func (o *observations) forget(wallet string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.lru.Remove(wallet)
}

// top ranks by hits descending, then by most recent access
func (o *observations) top(limit int) []TrendingWallet {
	type row struct {
		wallet string
		obs    observation
	}

	o.mu.Lock()
	rows := make([]row, 0, o.lru.Len())
	for _, wallet := range o.lru.Keys() {
		if obs, ok := o.lru.Peek(wallet); ok {
			rows = append(rows, row{wallet: wallet, obs: obs})
		}
	}
	o.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].obs.hits != rows[j].obs.hits {
			return rows[i].obs.hits > rows[j].obs.hits
		}
		return rows[i].obs.seq > rows[j].obs.seq
	})

	if limit < len(rows) {
		rows = rows[:limit]
	}

	out := make([]TrendingWallet, len(rows))
	for i, r := range rows {
		out[i] = TrendingWallet{Wallet: r.wallet, Hits: r.obs.hits}
	}
	return out
}

func (o *observations) size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lru.Len()
}
