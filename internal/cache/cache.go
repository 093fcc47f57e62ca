// Package cache holds the last known good price document.
package cache

import (
	"context"
	"maps"
	"sync/atomic"

	"solusiemas/api/internal/pricedoc"
)

// Slot is a single-entry cache. Concurrent writers race and the last Set
// wins.
type Slot interface {
	Get(ctx context.Context) (pricedoc.Document, bool, error)
	Set(ctx context.Context, doc pricedoc.Document) error
}

// Memory is a process-wide Slot.
type Memory struct {
	doc atomic.Pointer[pricedoc.Document]
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(ctx context.Context) (pricedoc.Document, bool, error) {
	doc := m.doc.Load()
	if doc == nil {
		return pricedoc.Document{}, false, nil
	}
	return detach(*doc), true, nil
}

func (m *Memory) Set(ctx context.Context, doc pricedoc.Document) error {
	doc = detach(doc)
	m.doc.Store(&doc)
	return nil
}

// detach copies the document maps so the slot never shares them with a
// caller.
func detach(doc pricedoc.Document) pricedoc.Document {
	doc.Prices = maps.Clone(doc.Prices)
	doc.Meta = maps.Clone(doc.Meta)
	return doc
}
