package forwarder

import "sync"

// Index is the live-session index: a multimap from
// forward_key to the leader EndPoint of every session pair currently
// authenticated under that key. The periodic cleanup task in
// internal/supervisor uses ScanAbsent to find sessions whose mapping has
// since been removed from the registry.
type Index struct {
	mu sync.Mutex
	m  map[string]map[*EndPoint]struct{}
}

// NewIndex returns an empty live-session index.
func NewIndex() *Index {
	return &Index{m: make(map[string]map[*EndPoint]struct{})}
}

// Insert registers leader under forwardKey.
func (ix *Index) Insert(forwardKey []byte, leader *EndPoint) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	k := string(forwardKey)
	set, ok := ix.m[k]
	if !ok {
		set = make(map[*EndPoint]struct{})
		ix.m[k] = set
	}
	set[leader] = struct{}{}
}

// Remove drops leader from forwardKey's set, pruning the key entirely once
// empty.
func (ix *Index) Remove(forwardKey []byte, leader *EndPoint) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	k := string(forwardKey)
	set, ok := ix.m[k]
	if !ok {
		return
	}
	delete(set, leader)
	if len(set) == 0 {
		delete(ix.m, k)
	}
}

// ScanAbsent returns every leader whose forward_key is not present in
// validKeys (a set of raw forward_key bytes converted to strings).
func (ix *Index) ScanAbsent(validKeys map[string]struct{}) []*EndPoint {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var stale []*EndPoint
	for k, set := range ix.m {
		if _, ok := validKeys[k]; ok {
			continue
		}
		for leader := range set {
			stale = append(stale, leader)
		}
	}
	return stale
}

// Len reports the number of distinct forward_keys with at least one live
// session, for metrics and diagnostics.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.m)
}
