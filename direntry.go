package comdoc

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DirEntry is one 128-byte directory record. LeftSibling and RightSibling
// double as the red-black tree child links; Child points at the root of
// the entry's own subtree when the entry is a storage.
type DirEntry struct {
	Name           string
	ObjType        ObjectType
	Color          Color
	LeftSibling    uint32
	RightSibling   uint32
	Child          uint32
	CLSID          [16]byte
	StateBits      uint32
	CreationTime   uint64
	ModifiedTime   uint64
	StartingSector uint32
	StreamSize     uint64
}

func NewDirEntry(name string, objType ObjectType, timestamp uint64) *DirEntry {
	return &DirEntry{
		Name:           name,
		ObjType:        objType,
		Color:          Black,
		LeftSibling:    NO_STREAM,
		RightSibling:   NO_STREAM,
		Child:          NO_STREAM,
		CreationTime:   timestamp,
		ModifiedTime:   timestamp,
		StartingSector: END_OF_CHAIN,
	}
}

// DecodeDirEntry parses one 128-byte directory record.
func DecodeDirEntry(buf []byte, version Version, validation Validation) (*DirEntry, error) {
	if len(buf) < DIR_ENTRY_LEN {
		return nil, fmt.Errorf("directory entry is %v bytes, need %v: %w",
			len(buf), DIR_ENTRY_LEN, ErrorNotCompoundDocument)
	}

	r := newByteReader(buf)
	nameField := r.Bytes(64)

	nameLen := int(r.U16())
	if nameLen > 64 || nameLen%2 != 0 {
		if validation.IsStrict() {
			return nil, fmt.Errorf("directory entry name length %v: %w", nameLen, ErrorNotCompoundDocument)
		}
		nameLen = 0
	}

	var name string
	if nameLen >= 2 {
		decoded, err := utf16le.NewDecoder().Bytes(nameField[:nameLen-2])
		if err != nil {
			return nil, fmt.Errorf("directory entry name: %w", err)
		}
		name = string(decoded)
	}

	entry := DirEntry{
		Name:    name,
		ObjType: ObjectFromByte(r.Bytes(1)[0]),
		Color:   ColorFromByte(r.Bytes(1)[0]),
	}

	entry.LeftSibling = r.U32()
	entry.RightSibling = r.U32()
	entry.Child = r.U32()
	copy(entry.CLSID[:], r.Bytes(16))
	entry.StateBits = r.U32()
	entry.CreationTime = r.U64()
	entry.ModifiedTime = r.U64()
	entry.StartingSector = r.U32()
	entry.StreamSize = r.U64() & version.StreamLenMask()

	return &entry, nil
}

// Encode produces the 128-byte on-disk record.
func (e *DirEntry) Encode() ([]byte, error) {
	w := newByteWriter(DIR_ENTRY_LEN)

	encoded, err := utf16le.NewEncoder().Bytes([]byte(e.Name))
	if err != nil {
		return nil, fmt.Errorf("directory entry name: %w", err)
	}
	if len(encoded) > 2*MAX_NAME_LEN {
		return nil, fmt.Errorf("name %q is longer than %v UTF-16 units: %w", e.Name, MAX_NAME_LEN, ErrorInvalidName)
	}

	w.Write(encoded)
	w.Zero(64 - len(encoded))

	if e.Name == "" {
		w.U16(0)
	} else {
		w.U16(uint16(len(encoded) + 2)) // bytes including the terminator
	}

	w.Write([]byte{e.ObjType.AsByte(), e.Color.AsByte()})
	w.U32(e.LeftSibling)
	w.U32(e.RightSibling)
	w.U32(e.Child)
	w.Write(e.CLSID[:])
	w.U32(e.StateBits)
	w.U64(e.CreationTime)
	w.U64(e.ModifiedTime)
	w.U32(e.StartingSector)
	w.U64(e.StreamSize)

	return w.Bytes(), nil
}
