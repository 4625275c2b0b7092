package protocol

import (
	"errors"
	"fmt"
)

// ModuleKind distinguishes module records.
type ModuleKind uint8

const (
	// ModuleMaterialized marks a module the receiver already has.
	ModuleMaterialized ModuleKind = 0x00
	ModuleESM          ModuleKind = 0x01
	ModuleCommonJS     ModuleKind = 0x02
)

// String returns the string representation of the module kind.
func (k ModuleKind) String() string {
	switch k {
	case ModuleMaterialized:
		return "Materialized"
	case ModuleESM:
		return "ESM"
	case ModuleCommonJS:
		return "CommonJS"
	default:
		return "Unknown"
	}
}

// ErrInvalidModuleKind is returned for unknown module record kinds.
var ErrInvalidModuleKind = errors.New("protocol: invalid module kind")

// DepRef is one dependency list entry: a module id, or a back-reference
// to an earlier position of the same list.
type DepRef struct {
	Back  bool
	ID    string
	Index uint32
}

// ModuleRecord describes one module. Only ESM records carry deps, export
// keys, star imports and the async flag.
type ModuleRecord struct {
	ID          string
	Kind        ModuleKind
	Symbol      string
	Deps        []DepRef
	ExportKeys  []string
	StarImports []string
	Async       bool
}

// FileEntry assigns a file index.
type FileEntry struct {
	Index uint32
	ID    string
}

// UpdateBatch is one update generation.
type UpdateBatch struct {
	Generation uint64
	Files      []FileEntry
	AddedRoots []uint32
	Modules    []ModuleRecord
}

// Reload tells the client to reload.
type Reload struct {
	Generation uint64
	Reason     string
}

// EncodeUpdate encodes an UpdateBatch.
func EncodeUpdate(u *UpdateBatch) []byte {
	e := NewEncoder()
	EncodeUpdateTo(e, u)
	return e.Bytes()
}

// EncodeUpdateTo encodes an UpdateBatch using the provided encoder.
func EncodeUpdateTo(e *Encoder, u *UpdateBatch) {
	e.WriteUvarint(u.Generation)
	e.WriteUvarint(uint64(len(u.Files)))
	for _, f := range u.Files {
		e.WriteUvarint(uint64(f.Index))
		e.WriteString(f.ID)
	}
	e.WriteUvarint(uint64(len(u.AddedRoots)))
	for _, r := range u.AddedRoots {
		e.WriteUvarint(uint64(r))
	}
	e.WriteUvarint(uint64(len(u.Modules)))
	for i := range u.Modules {
		encodeModule(e, &u.Modules[i])
	}
}

func encodeModule(e *Encoder, m *ModuleRecord) {
	e.WriteString(m.ID)
	e.WriteByte(byte(m.Kind))
	if m.Kind == ModuleMaterialized {
		return
	}
	e.WriteString(m.Symbol)
	if m.Kind != ModuleESM {
		return
	}
	e.WriteUvarint(uint64(len(m.Deps)))
	for _, dep := range m.Deps {
		e.WriteBool(dep.Back)
		if dep.Back {
			e.WriteUvarint(uint64(dep.Index))
		} else {
			e.WriteString(dep.ID)
		}
	}
	e.WriteStrings(m.ExportKeys)
	e.WriteStrings(m.StarImports)
	e.WriteBool(m.Async)
}

// DecodeUpdate decodes an UpdateBatch.
func DecodeUpdate(data []byte) (*UpdateBatch, error) {
	d := NewDecoder(data)
	u, err := DecodeUpdateFrom(d)
	if err != nil {
		return nil, err
	}
	return u, d.Finish()
}

// DecodeUpdateFrom decodes an UpdateBatch from a decoder.
func DecodeUpdateFrom(d *Decoder) (*UpdateBatch, error) {
	u := &UpdateBatch{}
	var err error

	if u.Generation, err = d.ReadUvarint(); err != nil {
		return nil, err
	}

	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		idx, err := readIndex(d)
		if err != nil {
			return nil, err
		}
		id, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		u.Files = append(u.Files, FileEntry{Index: uint32(idx), ID: id})
	}

	if u.AddedRoots, err = readIndices(d); err != nil {
		return nil, err
	}

	count, err = d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		u.Modules = make([]ModuleRecord, count)
	}
	for i := range u.Modules {
		if err := decodeModule(d, &u.Modules[i]); err != nil {
			return nil, fmt.Errorf("module %d: %w", i, err)
		}
	}
	return u, nil
}

func decodeModule(d *Decoder, m *ModuleRecord) error {
	var err error
	if m.ID, err = d.ReadString(); err != nil {
		return err
	}
	kind, err := d.ReadByte()
	if err != nil {
		return err
	}
	m.Kind = ModuleKind(kind)
	switch m.Kind {
	case ModuleMaterialized:
		return nil
	case ModuleESM, ModuleCommonJS:
	default:
		return ErrInvalidModuleKind
	}
	if m.Symbol, err = d.ReadString(); err != nil {
		return err
	}
	if m.Kind != ModuleESM {
		return nil
	}

	count, err := d.ReadCollectionCount()
	if err != nil {
		return err
	}
	if count > 0 {
		m.Deps = make([]DepRef, count)
	}
	for i := range m.Deps {
		back, err := d.ReadBool()
		if err != nil {
			return err
		}
		if !back {
			if m.Deps[i].ID, err = d.ReadString(); err != nil {
				return err
			}
			continue
		}
		idx, err := d.ReadUvarint()
		if err != nil {
			return err
		}
		if idx > 0xFFFFFFFF {
			return ErrVarintOverflow
		}
		m.Deps[i] = DepRef{Back: true, Index: uint32(idx)}
	}

	if m.ExportKeys, err = d.ReadStrings(); err != nil {
		return err
	}
	if m.StarImports, err = d.ReadStrings(); err != nil {
		return err
	}
	m.Async, err = d.ReadBool()
	return err
}

// EncodeReload encodes a Reload.
func EncodeReload(r *Reload) []byte {
	e := NewEncoder()
	e.WriteUvarint(r.Generation)
	e.WriteString(r.Reason)
	return e.Bytes()
}

// DecodeReload decodes a Reload.
func DecodeReload(data []byte) (*Reload, error) {
	d := NewDecoder(data)
	r := &Reload{}
	var err error
	if r.Generation, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if r.Reason, err = d.ReadString(); err != nil {
		return nil, err
	}
	return r, d.Finish()
}
