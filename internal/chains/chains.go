package chains

import (
	"fmt"
	"sort"
)

type Blockchain struct {
	ID    int64  `json:"id"`
	IDHex string `json:"idHex"`
	Name  string `json:"name"`
}

var (
	// EVM networks the wallet knows how to service.
	known = []*Blockchain{
		{ID: 1, Name: "eth"},
		{ID: 5, Name: "goerli"},
		{ID: 10, Name: "optimism"},
		{ID: 25, Name: "cronos"},
		{ID: 56, Name: "bsc"},
		{ID: 97, Name: "bsc testnet"},
		{ID: 100, Name: "gnosis"},
		{ID: 137, Name: "polygon"},
		{ID: 250, Name: "fantom"},
		{ID: 42161, Name: "arbitrum"},
		{ID: 43113, Name: "avalanche testnet"},
		{ID: 43114, Name: "avalanche"},
		{ID: 80001, Name: "mumbai"},
		{ID: 11155111, Name: "sepolia"},
	}

	mapping = func() map[int64]*Blockchain {
		m := make(map[int64]*Blockchain, len(known))
		for _, c := range known {
			c.IDHex = fmt.Sprintf("0x%x", c.ID)
			m[c.ID] = c
		}
		return m
	}()
)

// Lookup returns the chain with the given id.
func Lookup(id int64) (Blockchain, bool) {
	c, ok := mapping[id]
	if !ok {
		return Blockchain{}, false
	}
	return *c, true
}

func Known(id int64) bool {
	_, ok := mapping[id]
	return ok
}

// All returns every known chain ordered by id.
func All() []Blockchain {
	out := make([]Blockchain, 0, len(known))
	for _, c := range known {
		out = append(out, *c)
	}
	return out
}

// NetworkSet is the immutable set of networks currently enabled in the wallet.
type NetworkSet struct {
	ids map[int64]struct{}
}

func NewNetworkSet(ids ...int64) NetworkSet {
	s := NetworkSet{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s NetworkSet) Enabled(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

func (s NetworkSet) Len() int {
	return len(s.ids)
}

// IDs returns the enabled ids in ascending order.
func (s NetworkSet) IDs() []int64 {
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s NetworkSet) String() string {
	return fmt.Sprint(s.IDs())
}
