package page

import (
	"sync"

	"github.com/kastellan/docengine/pkg/lru"
	"github.com/kastellan/docengine/pkg/storageio"

	derrors "github.com/kastellan/docengine/pkg/errors"
)

// DefaultMaxCacheSize bounds how many pages the manager keeps resident.
const DefaultMaxCacheSize = 1000

// Manager allocates, reads, writes and frees fixed-size pages over a
// storageio.File. Allocation prefers the free list; otherwise it extends
// the file by incrementing a monotonic page id counter starting at 0.
type Manager struct {
	mu           sync.Mutex
	storage      *storageio.File
	cache        *lru.Cache[int64, *Page]
	freeList     []int64
	nextPageID   int64
	maxPageIDSet int64 // highest page id ever allocated (for PageExists bounds)
}

// Open opens the page store backed by storage, scanning the free list from
// any already-Free pages found on disk.
func Open(storage *storageio.File, maxCacheSize int) (*Manager, error) {
	if maxCacheSize <= 0 {
		maxCacheSize = DefaultMaxCacheSize
	}
	m := &Manager{
		storage: storage,
		cache:   lru.New[int64, *Page](maxCacheSize),
	}

	size := storage.Size()
	if size%Size != 0 {
		return nil, derrors.New(derrors.KindCorruption, "page.Open", "data file size is not a multiple of the page size")
	}
	pageCount := size / Size
	m.nextPageID = pageCount
	m.maxPageIDSet = pageCount - 1

	for id := int64(0); id < pageCount; id++ {
		buf, err := storage.ReadAt(id*Size, Size)
		if err != nil {
			return nil, err
		}
		p, err := Decode(buf)
		if err != nil {
			return nil, err
		}
		if p.Header.PageType == TypeFree {
			m.freeList = append(m.freeList, id)
		}
	}

	return m, nil
}

// AllocatePage returns a fresh page of the given type, preferring a
// free-list slot over extending the file.
func (m *Manager) AllocatePage(typ Type) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var id int64
	if n := len(m.freeList); n > 0 {
		id = m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
	} else {
		id = m.nextPageID
		m.nextPageID++
		if id > m.maxPageIDSet {
			m.maxPageIDSet = id
		}
	}

	p := New(id, typ)
	if err := m.writePageLocked(p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPage returns the page for id, consulting the cache first.
func (m *Manager) GetPage(id int64) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getPageLocked(id)
}

func (m *Manager) getPageLocked(id int64) (*Page, error) {
	const op = "page.GetPage"
	if cached, ok := m.cache.Get(id); ok {
		return cached, nil
	}
	if id < 0 || id > m.maxPageIDSet {
		return nil, derrors.New(derrors.KindNotFound, op, "page id out of range")
	}

	buf, err := m.storage.ReadAt(id*Size, Size)
	if err != nil {
		return nil, err
	}
	p, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	if p.Header.PageType == TypeFree {
		return nil, derrors.New(derrors.KindNotFound, op, "page is free")
	}
	m.cache.Put(id, p)
	return p, nil
}

// WritePage serializes p at its offset and updates the cache.
func (m *Manager) WritePage(p *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writePageLocked(p)
}

func (m *Manager) writePageLocked(p *Page) error {
	buf := p.Encode()
	if err := m.storage.WriteAt(p.Header.PageID*Size, buf); err != nil {
		return err
	}
	m.cache.Put(p.Header.PageID, p)
	if p.Header.PageID > m.maxPageIDSet {
		m.maxPageIDSet = p.Header.PageID
	}
	return nil
}

// FreePage enqueues id on the free list and writes a zeroed Free page in
// its place.
func (m *Manager) FreePage(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	free := New(id, TypeFree)
	if err := m.storage.WriteAt(id*Size, free.Encode()); err != nil {
		return err
	}
	m.cache.Remove(id)
	m.freeList = append(m.freeList, id)
	return nil
}

// PageExists reports whether id is within the allocated range and not on
// the free list.
func (m *Manager) PageExists(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id > m.maxPageIDSet {
		return false
	}
	for _, f := range m.freeList {
		if f == id {
			return false
		}
	}
	_, err := m.getPageLocked(id)
	return err == nil
}

// Flush writes all cached pages back and flushes the underlying storage.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.cache.Items() {
		if err := m.writePageLocked(p); err != nil {
			return err
		}
	}
	return m.storage.Flush()
}

// Close flushes and releases resources.
func (m *Manager) Close() error {
	if err := m.Flush(); err != nil {
		return err
	}
	m.cache.Dispose()
	return nil
}
