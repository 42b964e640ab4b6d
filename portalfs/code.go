// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file implements the canonical wire form of directory objects.
// Two directories with equal logical content marshal to identical bytes,
// and therefore to identical content hashes: maps are written with names
// in byte order, reference fields ascending by integer tag, absent fields
// omitted, and unknown fields re-emitted exactly as read.

package portalfs

import (
	"bytes"
	"errors" // Cannot use portalfs's errors package because it would introduce a dependency cycle.
	"sort"

	"portalfs.io/codec"
)

// DirMagic identifies a serialized DirV1 and its format version.
var DirMagic = []byte{0x5f, 0x5d}

// Integer field tags inside DirRef and FileRef maps. Field 1 (the name)
// is accepted on input for compatibility but never written: the name is
// the key of the enclosing map.
const (
	fieldName      = 1
	fieldTime      = 2
	fieldLink      = 3
	fieldLocations = 4
	fieldSize      = 5
	fieldMediaType = 6
	fieldHashType  = 7
	fieldNanos     = 8
	fieldPrev      = 9
)

// Field tags of the header map and of the shard map within it.
const (
	headerShard = 1

	shardRoot  = 0
	shardHash  = 1
	shardBits  = 2
	shardCount = 3
)

// Field tags of a location map.
const (
	locKind    = 0
	locPayload = 1
)

// maxPrevDepth bounds the version-history chain so hostile input cannot
// drive unmarshaling into unbounded recursion.
const maxPrevDepth = 512

// Errors returned by the marshaling code.
var (
	ErrBadMagic     = errors.New("not a directory blob: bad magic")
	ErrTrailingData = errors.New("trailing bytes after directory blob")
	ErrDupName      = errors.New("duplicate name in directory")
	ErrDupField     = errors.New("duplicate field tag")
	ErrPrevTooDeep  = errors.New("file version history too deep")
	ErrSharded      = errors.New("sharded directory must have no inline entries")
)

// A wireField is one field of a reference map, held until all fields are
// known so they can be written in canonical key order: integer keys
// ascending, then string keys in byte order.
type wireField struct {
	num  uint64
	name string
	str  bool
	emit func() error
}

func writeFields(w *codec.Writer, fields []wireField) error {
	sort.SliceStable(fields, func(i, j int) bool {
		a, b := fields[i], fields[j]
		if a.str != b.str {
			return !a.str
		}
		if a.str {
			return a.name < b.name
		}
		return a.num < b.num
	})
	for i := 1; i < len(fields); i++ {
		a, b := fields[i-1], fields[i]
		if a.str == b.str && a.num == b.num && a.name == b.name {
			return ErrDupField
		}
	}
	w.Map(len(fields))
	for _, f := range fields {
		if f.str {
			w.String(f.name)
		} else {
			w.Uint(f.num)
		}
		if err := f.emit(); err != nil {
			return err
		}
	}
	return nil
}

func extraFields(w *codec.Writer, extra []ExtraField) []wireField {
	fields := make([]wireField, 0, len(extra))
	for _, e := range extra {
		e := e
		fields = append(fields, wireField{
			num:  e.Num,
			name: e.Name,
			str:  e.Name != "",
			emit: func() error { w.Raw(e.Value); return nil },
		})
	}
	return fields
}

// Marshal returns the canonical serialization of the directory.
func (d *DirV1) Marshal() ([]byte, error) {
	w := codec.NewWriter()
	w.Magic(DirMagic)
	if err := marshalHeader(w, &d.Header); err != nil {
		return nil, err
	}
	if d.Sharded() && (len(d.Dirs) > 0 || len(d.Files) > 0) {
		return nil, ErrSharded
	}
	for name := range d.Files {
		if _, ok := d.Dirs[name]; ok {
			return nil, ErrDupName
		}
	}

	dirNames := make([]string, 0, len(d.Dirs))
	for name := range d.Dirs {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)
	w.Map(len(dirNames))
	for _, name := range dirNames {
		w.String(name)
		if err := marshalDirRef(w, d.Dirs[name]); err != nil {
			return nil, err
		}
	}

	fileNames := make([]string, 0, len(d.Files))
	for name := range d.Files {
		fileNames = append(fileNames, name)
	}
	sort.Strings(fileNames)
	w.Map(len(fileNames))
	for _, name := range fileNames {
		w.String(name)
		if err := marshalFileRef(w, d.Files[name], 0); err != nil {
			return nil, err
		}
	}
	return w.Result()
}

// Unmarshal parses data into d, replacing its previous contents.
// It rejects bad magic, duplicate names, duplicate field tags and
// trailing bytes. Unknown fields are preserved.
func (d *DirV1) Unmarshal(data []byte) error {
	r := codec.NewReader(data)
	magic := r.Magic(len(DirMagic))
	if r.Err() != nil || !bytes.Equal(magic, DirMagic) {
		return ErrBadMagic
	}
	d.Header = Header{}
	if err := unmarshalHeader(r, &d.Header); err != nil {
		return err
	}

	n := r.Map()
	d.Dirs = make(map[string]*DirRef, n)
	for i := 0; i < n; i++ {
		name := r.String()
		ref := new(DirRef)
		if err := unmarshalDirRef(r, ref); err != nil {
			return err
		}
		if _, ok := d.Dirs[name]; ok {
			return ErrDupName
		}
		d.Dirs[name] = ref
	}

	n = r.Map()
	d.Files = make(map[string]*FileRef, n)
	for i := 0; i < n; i++ {
		name := r.String()
		ref := new(FileRef)
		if err := unmarshalFileRef(r, ref, 0); err != nil {
			return err
		}
		if _, ok := d.Files[name]; ok {
			return ErrDupName
		}
		if _, ok := d.Dirs[name]; ok {
			return ErrDupName
		}
		d.Files[name] = ref
	}

	if err := r.Err(); err != nil {
		return err
	}
	if r.Len() != 0 {
		return ErrTrailingData
	}
	if d.Sharded() && (len(d.Dirs) > 0 || len(d.Files) > 0) {
		return ErrSharded
	}
	return nil
}

func marshalHeader(w *codec.Writer, h *Header) error {
	fields := extraFields(w, h.Extra)
	if h.Shard != nil {
		s := h.Shard
		fields = append(fields, wireField{num: headerShard, emit: func() error {
			w.Map(4)
			w.Uint(shardRoot)
			w.Bytes(s.Root[:])
			w.Uint(shardHash)
			w.Uint(uint64(s.HashFunction))
			w.Uint(shardBits)
			w.Uint(uint64(s.BitsPerLevel))
			w.Uint(shardCount)
			w.Uint(s.EntryCount)
			return nil
		}})
	}
	return writeFields(w, fields)
}

func unmarshalHeader(r *codec.Reader, h *Header) error {
	n := r.Map()
	for i := 0; i < n; i++ {
		if r.IsString() {
			name := r.String()
			h.Extra = append(h.Extra, ExtraField{Name: name, Value: r.Raw()})
			continue
		}
		num := r.Uint()
		switch num {
		case headerShard:
			if h.Shard != nil {
				return ErrDupField
			}
			s := new(Shard)
			if err := unmarshalShard(r, s); err != nil {
				return err
			}
			h.Shard = s
		default:
			h.Extra = append(h.Extra, ExtraField{Num: num, Value: r.Raw()})
		}
	}
	return r.Err()
}

func unmarshalShard(r *codec.Reader, s *Shard) error {
	n := r.Map()
	for i := 0; i < n; i++ {
		switch num := r.Uint(); num {
		case shardRoot:
			h, err := ParseHash(r.Bytes())
			if r.Err() != nil {
				return r.Err()
			}
			if err != nil {
				return err
			}
			s.Root = h
		case shardHash:
			s.HashFunction = uint8(r.Uint())
		case shardBits:
			s.BitsPerLevel = uint8(r.Uint())
		case shardCount:
			s.EntryCount = r.Uint()
		default:
			r.Raw() // Unknown shard fields are not preserved; skip.
		}
	}
	return r.Err()
}

// Marshal returns the bare reference map, as embedded in a directory or
// an index leaf.
func (f *FileRef) Marshal() ([]byte, error) {
	w := codec.NewWriter()
	if err := marshalFileRef(w, f, 0); err != nil {
		return nil, err
	}
	return w.Result()
}

// Unmarshal parses a bare reference map into f.
func (f *FileRef) Unmarshal(data []byte) error {
	r := codec.NewReader(data)
	if err := unmarshalFileRef(r, f, 0); err != nil {
		return err
	}
	if err := r.Err(); err != nil {
		return err
	}
	if r.Len() != 0 {
		return ErrTrailingData
	}
	return nil
}

func marshalFileRef(w *codec.Writer, f *FileRef, depth int) error {
	if depth > maxPrevDepth {
		return ErrPrevTooDeep
	}
	fields := extraFields(w, f.Extra)
	if f.Time != 0 {
		fields = append(fields, wireField{num: fieldTime, emit: func() error {
			w.Uint(uint64(f.Time))
			return nil
		}})
	}
	if !f.Hash.IsZero() {
		fields = append(fields, wireField{num: fieldLink, emit: func() error {
			w.Bytes(f.Hash[:])
			return nil
		}})
	}
	if len(f.Locations) > 0 {
		fields = append(fields, wireField{num: fieldLocations, emit: func() error {
			w.Array(len(f.Locations))
			for i := range f.Locations {
				if err := marshalLocation(w, &f.Locations[i]); err != nil {
					return err
				}
			}
			return nil
		}})
	}
	fields = append(fields, wireField{num: fieldSize, emit: func() error {
		w.Uint(f.Size)
		return nil
	}})
	if f.MediaType != "" {
		fields = append(fields, wireField{num: fieldMediaType, emit: func() error {
			w.String(f.MediaType)
			return nil
		}})
	}
	if f.HashType != 0 {
		fields = append(fields, wireField{num: fieldHashType, emit: func() error {
			w.Uint(uint64(f.HashType))
			return nil
		}})
	}
	if f.TimeNanos != 0 {
		fields = append(fields, wireField{num: fieldNanos, emit: func() error {
			w.Uint(uint64(f.TimeNanos))
			return nil
		}})
	}
	if f.Prev != nil {
		fields = append(fields, wireField{num: fieldPrev, emit: func() error {
			return marshalFileRef(w, f.Prev, depth+1)
		}})
	}
	return writeFields(w, fields)
}

func unmarshalFileRef(r *codec.Reader, f *FileRef, depth int) error {
	if depth > maxPrevDepth {
		return ErrPrevTooDeep
	}
	n := r.Map()
	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		if r.IsString() {
			name := r.String()
			f.Extra = append(f.Extra, ExtraField{Name: name, Value: r.Raw()})
			continue
		}
		num := r.Uint()
		if r.Err() != nil {
			return r.Err()
		}
		if seen[num] {
			return ErrDupField
		}
		seen[num] = true
		switch num {
		case fieldTime:
			f.Time = Time(r.Uint())
		case fieldLink:
			h, err := ParseHash(r.Bytes())
			if r.Err() != nil {
				return r.Err()
			}
			if err != nil {
				return err
			}
			f.Hash = h
		case fieldLocations:
			m := r.Array()
			f.Locations = make([]BlobLocation, m)
			for j := 0; j < m; j++ {
				if err := unmarshalLocation(r, &f.Locations[j]); err != nil {
					return err
				}
			}
		case fieldSize:
			f.Size = r.Uint()
		case fieldMediaType:
			f.MediaType = r.String()
		case fieldHashType:
			f.HashType = uint8(r.Uint())
		case fieldNanos:
			f.TimeNanos = uint32(r.Uint())
		case fieldPrev:
			f.Prev = new(FileRef)
			if err := unmarshalFileRef(r, f.Prev, depth+1); err != nil {
				return err
			}
		default:
			f.Extra = append(f.Extra, ExtraField{Num: num, Value: r.Raw()})
		}
	}
	return r.Err()
}

// Marshal returns the bare reference map, as embedded in a directory or
// an index leaf.
func (d *DirRef) Marshal() ([]byte, error) {
	w := codec.NewWriter()
	if err := marshalDirRef(w, d); err != nil {
		return nil, err
	}
	return w.Result()
}

// Unmarshal parses a bare reference map into d.
func (d *DirRef) Unmarshal(data []byte) error {
	r := codec.NewReader(data)
	if err := unmarshalDirRef(r, d); err != nil {
		return err
	}
	if err := r.Err(); err != nil {
		return err
	}
	if r.Len() != 0 {
		return ErrTrailingData
	}
	return nil
}

func marshalDirRef(w *codec.Writer, d *DirRef) error {
	fields := extraFields(w, d.Extra)
	if d.Seconds != 0 {
		fields = append(fields, wireField{num: fieldTime, emit: func() error {
			w.Int64(d.Seconds)
			return nil
		}})
	}
	if d.Link != (Link{}) {
		fields = append(fields, wireField{num: fieldLink, emit: func() error {
			w.Bytes(d.Link[:])
			return nil
		}})
	}
	if d.Nanos != 0 {
		fields = append(fields, wireField{num: fieldNanos, emit: func() error {
			w.Uint(uint64(d.Nanos))
			return nil
		}})
	}
	return writeFields(w, fields)
}

func unmarshalDirRef(r *codec.Reader, d *DirRef) error {
	n := r.Map()
	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		if r.IsString() {
			name := r.String()
			d.Extra = append(d.Extra, ExtraField{Name: name, Value: r.Raw()})
			continue
		}
		num := r.Uint()
		if r.Err() != nil {
			return r.Err()
		}
		if seen[num] {
			return ErrDupField
		}
		seen[num] = true
		switch num {
		case fieldTime:
			d.Seconds = r.Int64()
		case fieldLink:
			l, err := ParseLink(r.Bytes())
			if r.Err() != nil {
				return r.Err()
			}
			if err != nil {
				return err
			}
			d.Link = l
		case fieldNanos:
			d.Nanos = uint32(r.Uint())
		default:
			d.Extra = append(d.Extra, ExtraField{Num: num, Value: r.Raw()})
		}
	}
	return r.Err()
}

func marshalLocation(w *codec.Writer, l *BlobLocation) error {
	w.Map(2)
	w.Uint(locKind)
	w.Uint(uint64(l.Kind))
	w.Uint(locPayload)
	switch l.Kind {
	case LocationIdentity:
		w.Bytes(l.Data)
	case LocationHTTP:
		w.String(l.URL)
	default:
		return errors.New("unknown location kind")
	}
	return nil
}

func unmarshalLocation(r *codec.Reader, l *BlobLocation) error {
	n := r.Map()
	if n != 2 {
		return errors.New("malformed location")
	}
	if k := r.Uint(); k != locKind {
		return errors.New("malformed location")
	}
	l.Kind = LocationKind(r.Uint())
	if k := r.Uint(); k != locPayload {
		return errors.New("malformed location")
	}
	switch l.Kind {
	case LocationIdentity:
		l.Data = r.Bytes()
	case LocationHTTP:
		l.URL = r.String()
	default:
		return errors.New("unknown location kind")
	}
	return r.Err()
}

// Marshal returns the wire form of a registry record: a four-element
// array of public key, revision, data and signature.
func (r *SignedRecord) Marshal() ([]byte, error) {
	w := codec.NewWriter()
	w.Array(4)
	w.Bytes(r.PublicKey[:])
	w.Uint(r.Revision)
	w.Bytes(r.Data)
	w.Bytes(r.Signature[:])
	return w.Result()
}

// Unmarshal parses the wire form of a registry record.
func (r *SignedRecord) Unmarshal(data []byte) error {
	rd := codec.NewReader(data)
	if n := rd.Array(); n != 4 {
		if err := rd.Err(); err != nil {
			return err
		}
		return errors.New("malformed registry record")
	}
	pk := rd.Bytes()
	r.Revision = rd.Uint()
	r.Data = rd.Bytes()
	sig := rd.Bytes()
	if err := rd.Err(); err != nil {
		return err
	}
	if len(pk) != LinkSize || pk[0] != KeyEd25519 {
		return errors.New("malformed registry record: bad key")
	}
	if len(sig) != SignatureSize {
		return errors.New("malformed registry record: bad signature")
	}
	copy(r.PublicKey[:], pk)
	copy(r.Signature[:], sig)
	if rd.Len() != 0 {
		return ErrTrailingData
	}
	return nil
}
