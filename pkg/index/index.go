// Package index holds the per-document map from inline correlation
// identities to persistent task ids.
package index

import (
	"context"
	"sync"
)

// Backend persists identity maps, one per document.
type Backend interface {
	LoadIdentityMap(ctx context.Context, documentID string) (map[string]string, error)
	SaveIdentityMap(ctx context.Context, documentID string, mappings map[string]string) error
}

type IdentityMap struct {
	DocumentID string
	Mappings   map[string]string
	mu         sync.RWMutex
	dirty      bool
}

// New returns an empty map for documentID.
func New(documentID string) *IdentityMap {
	return &IdentityMap{DocumentID: documentID, Mappings: make(map[string]string)}
}

// Load reads the stored map of documentID, empty when none exists yet.
func Load(ctx context.Context, b Backend, documentID string) (*IdentityMap, error) {
	m, err := b.LoadIdentityMap(ctx, documentID)
	if err != nil {
		return nil, err
	}
	idx := New(documentID)
	for k, v := range m {
		idx.Mappings[k] = v
	}
	return idx, nil
}

// Save writes the map back if it changed since it was loaded.
func (idx *IdentityMap) Save(ctx context.Context, b Backend) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty {
		return nil
	}
	snapshot := make(map[string]string, len(idx.Mappings))
	for k, v := range idx.Mappings {
		snapshot[k] = v
	}
	if err := b.SaveIdentityMap(ctx, idx.DocumentID, snapshot); err != nil {
		return err
	}
	idx.dirty = false
	return nil
}

func (idx *IdentityMap) Get(inlineID string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.Mappings[inlineID]
	return id, ok
}

func (idx *IdentityMap) Set(inlineID, taskID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.Mappings[inlineID] != taskID {
		idx.Mappings[inlineID] = taskID
		idx.dirty = true
	}
}

func (idx *IdentityMap) Remove(inlineID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.Mappings[inlineID]; exists {
		delete(idx.Mappings, inlineID)
		idx.dirty = true
	}
}

// InlineIDs returns every inline id mapped to taskID.
func (idx *IdentityMap) InlineIDs(taskID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var ids []string
	for inline, id := range idx.Mappings {
		if id == taskID {
			ids = append(ids, inline)
		}
	}
	return ids
}

// Orphans returns the mapped inline ids that are not in current.
func (idx *IdentityMap) Orphans(current map[string]bool) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var orphans []string
	for inline := range idx.Mappings {
		if !current[inline] {
			orphans = append(orphans, inline)
		}
	}
	return orphans
}

func (idx *IdentityMap) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.Mappings)
}

func (idx *IdentityMap) Dirty() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dirty
}
