// Package cache persists the Furbies gofluff has connected to, so a device
// in F2F mode (no longer advertising) can still be dialed by address.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// KnownFurby is one cached device.
type KnownFurby struct {
	Address          string             `json:"address"`
	DeviceName       string             `json:"device_name,omitempty"`
	Name             string             `json:"name,omitempty"`
	NameID           *int               `json:"name_id,omitempty"`
	LastSeen         time.Time          `json:"last_seen"`
	FirmwareRevision string             `json:"firmware_revision,omitempty"`
	Slots            map[int]SlotRecord `json:"slots,omitempty"`
}

// SlotRecord remembers what was last uploaded into a DLC slot.
type SlotRecord struct {
	Filename   string    `json:"filename"`
	Size       int       `json:"size"`
	Digest     string    `json:"digest"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Update carries the fields to change in AddOrUpdate. Empty strings and a
// nil NameID leave the cached value alone.
type Update struct {
	Address          string
	DeviceName       string
	Name             string
	NameID           *int
	FirmwareRevision string
}

type file struct {
	Furbies map[string]*KnownFurby `json:"furbies"`
}

// Cache is a JSON-file-backed set of KnownFurby records. It is safe for
// concurrent use; every mutation is written through to disk.
type Cache struct {
	path string
	now  func() time.Time

	mu      sync.RWMutex
	furbies map[string]*KnownFurby
}

// Open loads the cache at path. A missing or unreadable file yields an
// empty cache; the file is created on the first write.
func Open(path string) *Cache {
	c := &Cache{
		path:    path,
		now:     time.Now,
		furbies: make(map[string]*KnownFurby),
	}
	if furbies, err := c.read(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Error("[Cache] failed to load, starting empty", "path", path, "error", err)
		}
	} else {
		c.furbies = furbies
		slog.Debug("[Cache] loaded", "path", path, "count", len(furbies))
	}
	return c
}

// Path returns the backing file path.
func (c *Cache) Path() string { return c.path }

// AddOrUpdate creates or updates the record for u.Address and bumps its
// last-seen time.
func (c *Cache) AddOrUpdate(u Update) (KnownFurby, error) {
	if u.Address == "" {
		return KnownFurby{}, fmt.Errorf("cache: empty address")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.furbies[u.Address]
	if !ok {
		f = &KnownFurby{Address: u.Address}
		c.furbies[u.Address] = f
		slog.Info("[Cache] adding Furby", "address", u.Address)
	}
	if u.DeviceName != "" {
		f.DeviceName = u.DeviceName
	}
	if u.Name != "" {
		f.Name = u.Name
	}
	if u.NameID != nil {
		id := *u.NameID
		f.NameID = &id
	}
	if u.FirmwareRevision != "" {
		f.FirmwareRevision = u.FirmwareRevision
	}
	f.LastSeen = c.now()

	return f.clone(), c.saveLocked()
}

// Get returns the record for address.
func (c *Cache) Get(address string) (KnownFurby, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.furbies[address]
	if !ok {
		return KnownFurby{}, false
	}
	return f.clone(), true
}

// All returns every record, most recently seen first.
func (c *Cache) All() []KnownFurby {
	c.mu.RLock()
	out := make([]KnownFurby, 0, len(c.furbies))
	for _, f := range c.furbies {
		out = append(out, f.clone())
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b KnownFurby) int {
		if n := b.LastSeen.Compare(a.LastSeen); n != 0 {
			return n
		}
		return strings.Compare(a.Address, b.Address)
	})
	return out
}

// Addresses returns every cached address, sorted.
func (c *Cache) Addresses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.furbies))
}

// MostRecent returns the most recently seen record.
func (c *Cache) MostRecent() (KnownFurby, bool) {
	all := c.All()
	if len(all) == 0 {
		return KnownFurby{}, false
	}
	return all[0], true
}

// Remove deletes address, reporting whether it was present.
func (c *Cache) Remove(address string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.furbies[address]; !ok {
		return false, nil
	}
	delete(c.furbies, address)
	slog.Info("[Cache] removed Furby", "address", address)
	return true, c.saveLocked()
}

// Clear deletes every record and returns how many there were.
func (c *Cache) Clear() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.furbies)
	clear(c.furbies)
	slog.Info("[Cache] cleared", "removed", n)
	return n, c.saveLocked()
}

// UpdateName records a new name for a known Furby. Unknown addresses are
// logged and ignored.
func (c *Cache) UpdateName(address, name string, nameID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.furbies[address]
	if !ok {
		slog.Warn("[Cache] cannot update name for unknown Furby", "address", address)
		return nil
	}
	f.Name = name
	f.NameID = &nameID
	f.LastSeen = c.now()
	slog.Info("[Cache] updated name", "address", address, "name", name, "name_id", nameID)
	return c.saveLocked()
}

// RecordUpload stores rec as the content of slot on a known Furby.
func (c *Cache) RecordUpload(address string, slot int, rec SlotRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.furbies[address]
	if !ok {
		f = &KnownFurby{Address: address, LastSeen: c.now()}
		c.furbies[address] = f
	}
	if f.Slots == nil {
		f.Slots = make(map[int]SlotRecord)
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = c.now()
	}
	f.Slots[slot] = rec
	return c.saveLocked()
}

// Reload replaces the in-memory records with the file's contents.
func (c *Cache) Reload() error {
	furbies, err := c.read()
	if errors.Is(err, fs.ErrNotExist) {
		furbies, err = make(map[string]*KnownFurby), nil
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.furbies = furbies
	c.mu.Unlock()
	return nil
}

func (c *Cache) read() (map[string]*KnownFurby, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cache: parse %s: %w", c.path, err)
	}
	if f.Furbies == nil {
		f.Furbies = make(map[string]*KnownFurby)
	}
	for addr, kf := range f.Furbies {
		if kf == nil {
			delete(f.Furbies, addr)
			continue
		}
		kf.Address = addr
	}
	return f.Furbies, nil
}

// saveLocked writes the cache through a temp file and rename so readers in
// other processes never see a partial file.
func (c *Cache) saveLocked() error {
	data, err := json.MarshalIndent(file{Furbies: c.furbies}, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".known_furbies-*.json")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("cache: replace %s: %w", c.path, err)
	}
	slog.Debug("[Cache] saved", "count", len(c.furbies))
	return nil
}

func (f *KnownFurby) clone() KnownFurby {
	out := *f
	if f.NameID != nil {
		id := *f.NameID
		out.NameID = &id
	}
	out.Slots = maps.Clone(f.Slots)
	return out
}
