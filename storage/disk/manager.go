// Package disk provides the blocking disk provider contract (grounded on
// the teacher's storage_engine/disk_manager file-descriptor-map design)
// and the single-worker scheduler that serializes access to it.
package disk

import (
	"fmt"
	"os"
	"sync"

	"dbcore/dberr"
	"dbcore/types"
)

// Manager is the blocking disk provider every BufferPool is built on.
// Implementations may be file-backed or memory-backed (tests use the
// latter so they don't touch the filesystem).
type Manager interface {
	ReadPage(id types.PageID, out []byte) error
	WritePage(id types.PageID, in []byte) error
	Allocate() (types.PageID, error)
	Deallocate(id types.PageID) error
	PageSize() int
	Close() error
}

// FileManager is a single-file, fixed-page-size disk provider. Grounded on
// the teacher's DiskManagerImpl: an os.File plus a monotonic next-page
// counter derived from the file's current size.
type FileManager struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
	nextID   types.PageID
	freed    map[types.PageID]bool
	// maxPages caps the number of pages Allocate will hand out; zero
	// means unlimited. Set via SetMaxPages once the caller knows the
	// device's real capacity.
	maxPages types.PageID
}

func NewFileManager(path string, pageSize int) (*FileManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: stat %s: %w", path, err)
	}
	nextID := types.PageID(info.Size() / int64(pageSize))
	return &FileManager{file: f, pageSize: pageSize, nextID: nextID, freed: make(map[types.PageID]bool)}, nil
}

// SetMaxPages caps future Allocate calls at n total pages; n <= 0 means
// unlimited. Callers wire this to the device's real capacity once known.
func (d *FileManager) SetMaxPages(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxPages = types.PageID(n)
}

func (d *FileManager) PageSize() int { return d.pageSize }

func (d *FileManager) ReadPage(id types.PageID, out []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(out) != d.pageSize {
		return fmt.Errorf("disk: read buffer size %d != page size %d", len(out), d.pageSize)
	}
	offset := int64(id) * int64(d.pageSize)
	n, err := d.file.ReadAt(out, offset)
	if err != nil && n == 0 {
		for i := range out {
			out[i] = 0
		}
		return nil // reading a never-written page returns zeros, not an error
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return nil
}

func (d *FileManager) WritePage(id types.PageID, in []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(in) != d.pageSize {
		return fmt.Errorf("disk: write buffer size %d != page size %d", len(in), d.pageSize)
	}
	offset := int64(id) * int64(d.pageSize)
	if _, err := d.file.WriteAt(in, offset); err != nil {
		return fmt.Errorf("disk: write page %d: %w", id, err)
	}
	return nil
}

func (d *FileManager) Allocate() (types.PageID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.maxPages > 0 && d.nextID >= d.maxPages {
		return types.InvalidPageID, fmt.Errorf("disk: %s has no room for another page: %w", d.file.Name(), dberr.ErrOutOfStorage)
	}
	id := d.nextID
	d.nextID++
	return id, nil
}

func (d *FileManager) Deallocate(id types.PageID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freed[id] = true
	return nil
}

func (d *FileManager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

// MemManager is an in-memory disk provider for tests and for pipelines
// (sort runs, hash-join partitions) that never need real persistence.
// Grounded on the teacher's bplustree/inmemory_pager.go.
type MemManager struct {
	mu       sync.Mutex
	pageSize int
	pages    map[types.PageID][]byte
	nextID   types.PageID
	// maxPages caps the number of pages Allocate will hand out; zero
	// means unlimited, the same contract as FileManager.SetMaxPages.
	maxPages types.PageID
}

func NewMemManager(pageSize int) *MemManager {
	return &MemManager{pageSize: pageSize, pages: make(map[types.PageID][]byte)}
}

// SetMaxPages caps future Allocate calls at n total pages; n <= 0 means
// unlimited.
func (m *MemManager) SetMaxPages(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxPages = types.PageID(n)
}

func (m *MemManager) PageSize() int { return m.pageSize }

func (m *MemManager) ReadPage(id types.PageID, out []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.pages[id]
	if !ok {
		for i := range out {
			out[i] = 0
		}
		return nil
	}
	copy(out, data)
	return nil
}

func (m *MemManager) WritePage(id types.PageID, in []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, m.pageSize)
	copy(buf, in)
	m.pages[id] = buf
	return nil
}

func (m *MemManager) Allocate() (types.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxPages > 0 && m.nextID >= m.maxPages {
		return types.InvalidPageID, fmt.Errorf("disk: in-memory provider has no room for another page: %w", dberr.ErrOutOfStorage)
	}
	id := m.nextID
	m.nextID++
	m.pages[id] = make([]byte, m.pageSize)
	return id, nil
}

func (m *MemManager) Deallocate(id types.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[id]; !ok {
		return fmt.Errorf("disk: deallocate unknown page %d: %w", id, dberr.ErrNotFound)
	}
	delete(m.pages, id)
	return nil
}

func (m *MemManager) Close() error { return nil }
