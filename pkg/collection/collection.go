// Package collection is the minimal composition layer over an index, the
// version manager, and the transaction manager that the spec's §1 calls
// an out-of-scope "facade" concern, kept here only as the glue needed to
// exercise the core as one engine (SPEC_FULL.md §D): insert/update/delete/
// find_by_id/find_all/count/create_index/drop_index/clear (spec §6).
package collection

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kastellan/docengine/pkg/btree"
	"github.com/kastellan/docengine/pkg/document"
	derrors "github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/hashindex"
	"github.com/kastellan/docengine/pkg/index"
	"github.com/kastellan/docengine/pkg/metrics"
	"github.com/kastellan/docengine/pkg/mvcc"
	"github.com/kastellan/docengine/pkg/skiplist"
	"github.com/kastellan/docengine/pkg/txn"
	"github.com/kastellan/docengine/pkg/types"
)

// IndexKind selects which capability-set implementation (spec §9) backs a
// secondary index.
type IndexKind int

const (
	KindBTree IndexKind = iota
	KindHash
	KindSkipList
)

// Collection is a named set of documents with a primary id index and any
// number of secondary field indexes, all durable through the shared
// transaction manager.
type Collection struct {
	Name string

	txns     *txn.Manager
	versions *mvcc.Manager

	mu        sync.RWMutex
	primary   index.Index // VarcharKey(doc.ID) -> slot
	secondary map[string]index.Index

	slotsMu  sync.RWMutex
	slots    map[int64]string // slot -> doc id
	slotByID map[string]int64
	nextSlot int64
}

// New creates an empty collection wired to the shared txn/version
// managers.
func New(name string, txns *txn.Manager, versions *mvcc.Manager) *Collection {
	return &Collection{
		Name:      name,
		txns:      txns,
		versions:  versions,
		primary:   btree.NewIndex(btree.DefaultDegree, true),
		secondary: make(map[string]index.Index),
		slots:     make(map[int64]string),
		slotByID:  make(map[string]int64),
	}
}

func newIndex(kind IndexKind, unique bool) index.Index {
	switch kind {
	case KindHash:
		return hashindex.New()
	case KindSkipList:
		return skiplist.New()
	default:
		return btree.NewIndex(btree.DefaultDegree, unique)
	}
}

// CreateIndex adds a secondary index over field, backed by the given
// index variant.
func (c *Collection) CreateIndex(field string, kind IndexKind) error {
	const op = "collection.CreateIndex"
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.secondary[field]; ok {
		return derrors.New(derrors.KindAlreadyExists, op, "index already exists for field "+field)
	}
	idx := newIndex(kind, false)

	all, err := c.primary.GetAll()
	if err != nil {
		return err
	}
	for _, pair := range all {
		id := c.slotToID(pair.Value)
		doc, ok, err := c.fetchByID(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if v, found := document.FieldValue(doc, field); found {
			if err := idx.Put(v, pair.Value); err != nil {
				return err
			}
		}
	}

	c.secondary[field] = idx
	return nil
}

// DropIndex removes the secondary index over field, if any.
func (c *Collection) DropIndex(field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.secondary, field)
	return nil
}

func (c *Collection) slotToID(slot int64) string {
	c.slotsMu.RLock()
	defer c.slotsMu.RUnlock()
	return c.slots[slot]
}

func (c *Collection) slotFor(id string) int64 {
	c.slotsMu.Lock()
	defer c.slotsMu.Unlock()
	if slot, ok := c.slotByID[id]; ok {
		return slot
	}
	slot := atomic.AddInt64(&c.nextSlot, 1) - 1
	c.slots[slot] = id
	c.slotByID[id] = slot
	return slot
}

func (c *Collection) forgetSlot(id string) {
	c.slotsMu.Lock()
	defer c.slotsMu.Unlock()
	if slot, ok := c.slotByID[id]; ok {
		delete(c.slots, slot)
		delete(c.slotByID, id)
	}
}

// Insert durably writes a new document and indexes it. If doc.ID is
// empty, one is auto-generated.
func (c *Collection) Insert(ctx context.Context, doc *document.Document) error {
	const op = "collection.Insert"
	if doc.ID == "" {
		doc.ID = document.GenerateID()
	}

	c.mu.RLock()
	exists, err := c.primary.ContainsKey(types.VarcharKey(doc.ID))
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	if exists {
		return &derrors.DuplicateKeyError{Key: doc.ID}
	}

	data, err := document.Marshal(doc)
	if err != nil {
		return err
	}

	tx := c.txns.Begin(mvcc.Serializable)
	if err := tx.Write(ctx, c.resourcePath(doc.ID), data); err != nil {
		tx.Rollback()
		return derrors.Wrap(derrors.KindIO, op, err)
	}
	if err := tx.Commit(); err != nil {
		return derrors.Wrap(derrors.KindIO, op, err)
	}
	metrics.TransactionsTotal.WithLabelValues("committed").Inc()

	slot := c.slotFor(doc.ID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.primary.Put(types.VarcharKey(doc.ID), slot); err != nil {
		return err
	}
	for field, idx := range c.secondary {
		if v, ok := document.FieldValue(doc, field); ok {
			idx.Put(v, slot)
		}
	}
	metrics.IndexOperationsTotal.WithLabelValues("primary", "put").Inc()
	return nil
}

func (c *Collection) resourcePath(id string) string {
	return c.Name + "/" + id
}

// Update replaces an existing document's fields, bumping Version.
func (c *Collection) Update(ctx context.Context, id string, fields func(*document.Document) error) error {
	const op = "collection.Update"
	doc, ok, err := c.fetchByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return derrors.New(derrors.KindNotFound, op, "document not found: "+id)
	}

	old := doc.Clone()
	if err := fields(doc); err != nil {
		return err
	}
	doc.Touch()

	data, err := document.Marshal(doc)
	if err != nil {
		return err
	}

	tx := c.txns.Begin(mvcc.Serializable)
	if err := tx.Write(ctx, c.resourcePath(id), data); err != nil {
		tx.Rollback()
		return derrors.Wrap(derrors.KindIO, op, err)
	}
	if err := tx.Commit(); err != nil {
		return derrors.Wrap(derrors.KindIO, op, err)
	}
	metrics.TransactionsTotal.WithLabelValues("committed").Inc()

	slot := c.slotFor(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	for field, idx := range c.secondary {
		if oldV, ok := document.FieldValue(old, field); ok {
			idx.Delete(oldV)
		}
		if v, ok := document.FieldValue(doc, field); ok {
			idx.Put(v, slot)
		}
	}
	return nil
}

// Delete removes a document, tombstoning its version chain and dropping
// it from every index.
func (c *Collection) Delete(ctx context.Context, id string) error {
	const op = "collection.Delete"

	c.mu.RLock()
	exists, err := c.primary.ContainsKey(types.VarcharKey(id))
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	if !exists {
		return derrors.New(derrors.KindNotFound, op, "document not found: "+id)
	}

	doc, _, err := c.fetchByID(id)
	if err != nil {
		return err
	}

	tx := c.txns.Begin(mvcc.Serializable)
	if err := tx.Delete(ctx, c.resourcePath(id)); err != nil {
		tx.Rollback()
		return derrors.Wrap(derrors.KindIO, op, err)
	}
	if err := tx.Commit(); err != nil {
		return derrors.Wrap(derrors.KindIO, op, err)
	}
	metrics.TransactionsTotal.WithLabelValues("committed").Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.primary.Delete(types.VarcharKey(id))
	if doc != nil {
		for field, idx := range c.secondary {
			if v, ok := document.FieldValue(doc, field); ok {
				idx.Delete(v)
			}
		}
	}
	c.forgetSlot(id)
	return nil
}

func (c *Collection) fetchByID(id string) (*document.Document, bool, error) {
	data, ok := c.versions.VisibleVersion(c.resourcePath(id), mvcc.Now(), mvcc.ReadCommitted)
	if !ok {
		return nil, false, nil
	}
	doc, err := document.Unmarshal(data)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// FindByID returns the current visible version of a document.
func (c *Collection) FindByID(id string) (*document.Document, bool, error) {
	return c.fetchByID(id)
}

// FindAll returns every document currently indexed, in primary-key order.
func (c *Collection) FindAll() ([]*document.Document, error) {
	c.mu.RLock()
	pairs, err := c.primary.GetAll()
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out := make([]*document.Document, 0, len(pairs))
	for _, p := range pairs {
		id := c.slotToID(p.Value)
		doc, ok, err := c.fetchByID(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Count reports how many documents the primary index currently holds.
func (c *Collection) Count() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primary.Count()
}

// Clear empties every index. Existing version-chain history is left for
// MVCC vacuum to reclaim; readers holding an old snapshot are unaffected.
func (c *Collection) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.primary.Clear(); err != nil {
		return err
	}
	for _, idx := range c.secondary {
		if err := idx.Clear(); err != nil {
			return err
		}
	}
	c.slotsMu.Lock()
	c.slots = make(map[int64]string)
	c.slotByID = make(map[string]int64)
	c.slotsMu.Unlock()
	return nil
}
