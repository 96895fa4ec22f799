package uavobject

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Dictionary is the catalog of object definitions known on one side of the link.
// Registering a data object also registers its metaobject.
type Dictionary struct {
	lock   sync.RWMutex
	byID   map[uint32]*Definition
	byName map[string]*Definition
	sorted []*Definition
	sum    *uint32
}

// NewDictionary creates a dictionary with definitions, panics on invalid ones.
func NewDictionary(defs ...*Definition) *Dictionary {
	d := &Dictionary{
		byID:   make(map[uint32]*Definition),
		byName: make(map[string]*Definition),
	}
	if err := d.Register(defs...); err != nil {
		panic(err)
	}
	return d
}

// Register validates and adds definitions. Definitions are copied.
func (d *Dictionary) Register(defs ...*Definition) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	for _, def := range defs {
		obj := *def
		obj.Fields = append([]Field(nil), def.Fields...)
		obj.isMeta = false
		if err := obj.prepare(); err != nil {
			return err
		}
		meta := newMetaDefinition(&obj)
		if err := meta.prepare(); err != nil {
			return err
		}
		for _, item := range []*Definition{&obj, meta} {
			if _, exists := d.byID[item.ID]; exists {
				return fmt.Errorf("object %s id %08x: %w", item.Name, item.ID, ErrDuplicated)
			}
			if _, exists := d.byName[item.Name]; exists {
				return fmt.Errorf("object %s: %w", item.Name, ErrDuplicated)
			}
		}
		for _, item := range []*Definition{&obj, meta} {
			d.byID[item.ID] = item
			d.byName[item.Name] = item
			d.sorted = append(d.sorted, item)
		}
	}
	sort.Slice(d.sorted, func(i, j int) bool { return d.sorted[i].ID < d.sorted[j].ID })
	d.sum = nil
	return nil
}

// Lookup finds a definition by id.
func (d *Dictionary) Lookup(id uint32) (*Definition, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	def, ok := d.byID[id]
	return def, ok
}

// ByName finds a definition by name.
func (d *Dictionary) ByName(name string) (*Definition, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	def, ok := d.byName[name]
	return def, ok
}

// MustByName finds a definition by name and panics if not found.
func (d *Dictionary) MustByName(name string) *Definition {
	def, ok := d.ByName(name)
	if !ok {
		panic("unknown object " + name)
	}
	return def
}

// Definitions returns all definitions ordered by id.
func (d *Dictionary) Definitions() []*Definition {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return append([]*Definition(nil), d.sorted...)
}

// MetaObject returns the metaobject definition of a data object.
func (d *Dictionary) MetaObject(id uint32) (*Definition, bool) {
	def, ok := d.Lookup(MetaObjectID(id))
	if !ok || !def.isMeta {
		return nil, false
	}
	return def, true
}

// IsMeta indicates id refers to a registered metaobject.
func (d *Dictionary) IsMeta(id uint32) bool {
	def, ok := d.Lookup(id)
	return ok && def.isMeta
}

// Parent returns the data object a metaobject describes.
func (d *Dictionary) Parent(metaID uint32) (*Definition, bool) {
	meta, ok := d.Lookup(metaID)
	if !ok || !meta.isMeta {
		return nil, false
	}
	return d.Lookup(metaID - 1)
}

// NumObjects counts data objects, metaobjects excluded.
func (d *Dictionary) NumObjects() int {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return len(d.sorted) / 2
}

// Checksum fingerprints the wire layout of every definition. Both sides of the
// link must agree on it before exchanging objects.
func (d *Dictionary) Checksum() uint32 {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.sum != nil {
		return *d.sum
	}
	h := xxhash.New()
	for _, def := range d.sorted {
		var b strings.Builder
		b.WriteString(strconv.FormatUint(uint64(def.ID), 16))
		b.WriteByte(':')
		b.WriteString(def.Name)
		b.WriteByte(':')
		b.WriteString(strconv.FormatBool(def.SingleInstance))
		for n := range def.Fields {
			f := &def.Fields[n]
			fmt.Fprintf(&b, ";%s:%v:%d", f.Name, f.Type, f.NumElements())
			if f.Type == Enum {
				b.WriteByte(':')
				b.WriteString(strings.Join(f.Options, ","))
			}
		}
		b.WriteByte('\n')
		h.WriteString(b.String())
	}
	s := h.Sum64()
	sum := uint32(s) ^ uint32(s>>32)
	d.sum = &sum
	return sum
}
