package comdoc

import (
	"bytes"
	"fmt"
)

// Header is the decoded 512-byte file header. Reserved regions are kept
// verbatim so a decode/encode round trip preserves foreign bytes.
type Header struct {
	Version      Version
	MinorVersion uint16

	SectorShift     uint16
	MiniSectorShift uint16

	NumDirSectors      uint32
	NumFatSectors      uint32
	FirstDirSector     uint32
	TransactionSign    uint32
	MiniStreamCutoff   uint32
	FirstMinifatSector uint32
	NumMinifatSectors  uint32
	FirstDifatSector   uint32
	NumDifatSectors    uint32

	InitialDifatEntries [NUM_DIFAT_ENTRIES_IN_HEADER]uint32

	clsid    [16]byte
	reserved [6]byte
}

const (
	reservedAfterMagicNumber = 16
	reservedAfterMiniShift   = 6
)

// NewHeader returns the header of a freshly created V3 document: empty
// tables, no directory, default sector geometry.
func NewHeader() *Header {
	h := &Header{
		Version:            V3,
		MinorVersion:       MINOR_VERSION,
		SectorShift:        V3.SectorShift(),
		MiniSectorShift:    MINI_SECTOR_SHIFT,
		FirstDirSector:     END_OF_CHAIN,
		MiniStreamCutoff:   uint32(MINI_STREAM_CUTOFF),
		FirstMinifatSector: END_OF_CHAIN,
		FirstDifatSector:   END_OF_CHAIN,
	}

	for i := range h.InitialDifatEntries {
		h.InitialDifatEntries[i] = FREE_SECTOR
	}

	return h
}

func (h *Header) SectorLen() int {
	return 1 << h.SectorShift
}

func (h *Header) MiniSectorLen() int {
	return 1 << h.MiniSectorShift
}

// DecodeHeader parses the first 512 bytes of an image. The magic number
// and byte-order mark gate everything else; a mismatch means the image is
// not a compound document at all.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HEADER_LEN {
		return nil, fmt.Errorf("header is %v bytes, need %v: %w", len(buf), HEADER_LEN, ErrorNotCompoundDocument)
	}

	r := newByteReader(buf)
	if !bytes.Equal(r.Bytes(len(MAGIC_NUMBER)), MAGIC_NUMBER) {
		return nil, fmt.Errorf("bad magic number: %w", ErrorNotCompoundDocument)
	}

	h := &Header{}
	copy(h.clsid[:], r.Bytes(reservedAfterMagicNumber))

	h.MinorVersion = r.U16()
	versionNumber := r.U16()

	if bom := r.U16(); bom != BYTE_ORDER_MARK {
		return nil, fmt.Errorf("bad byte order mark 0x%04x: %w", bom, ErrorNotCompoundDocument)
	}

	version, err := VersionNumber(versionNumber)
	if err != nil {
		return nil, err
	}
	h.Version = version

	h.SectorShift = r.U16()
	if h.SectorShift != version.SectorShift() {
		return nil, fmt.Errorf("sector shift %v does not match version %v: %w",
			h.SectorShift, version, ErrorNotCompoundDocument)
	}

	h.MiniSectorShift = r.U16()
	if h.MiniSectorShift != MINI_SECTOR_SHIFT {
		return nil, fmt.Errorf("mini sector shift %v, expected %v: %w",
			h.MiniSectorShift, MINI_SECTOR_SHIFT, ErrorNotCompoundDocument)
	}

	copy(h.reserved[:], r.Bytes(reservedAfterMiniShift))

	h.NumDirSectors = r.U32()
	h.NumFatSectors = r.U32()
	h.FirstDirSector = r.U32()
	h.TransactionSign = r.U32()

	h.MiniStreamCutoff = r.U32()
	if h.MiniStreamCutoff != uint32(MINI_STREAM_CUTOFF) {
		return nil, fmt.Errorf("mini stream cutoff %v, expected %v: %w",
			h.MiniStreamCutoff, MINI_STREAM_CUTOFF, ErrorNotCompoundDocument)
	}

	h.FirstMinifatSector = r.U32()
	h.NumMinifatSectors = r.U32()
	h.FirstDifatSector = r.U32()
	h.NumDifatSectors = r.U32()

	// Some writers use FREE_SECTOR to indicate an absent DIFAT chain.
	if h.FirstDifatSector == FREE_SECTOR {
		h.FirstDifatSector = END_OF_CHAIN
	}

	for i := range h.InitialDifatEntries {
		h.InitialDifatEntries[i] = r.U32()
	}

	return h, nil
}

// Encode produces the 512-byte on-disk header.
func (h *Header) Encode() []byte {
	w := newByteWriter(HEADER_LEN)

	w.Write(MAGIC_NUMBER)
	w.Write(h.clsid[:])
	w.U16(h.MinorVersion)
	w.U16(uint16(h.Version))
	w.U16(BYTE_ORDER_MARK)
	w.U16(h.SectorShift)
	w.U16(h.MiniSectorShift)
	w.Write(h.reserved[:])
	w.U32(h.NumDirSectors)
	w.U32(h.NumFatSectors)
	w.U32(h.FirstDirSector)
	w.U32(h.TransactionSign)
	w.U32(h.MiniStreamCutoff)
	w.U32(h.FirstMinifatSector)
	w.U32(h.NumMinifatSectors)
	w.U32(h.FirstDifatSector)
	w.U32(h.NumDifatSectors)

	for _, e := range h.InitialDifatEntries {
		w.U32(e)
	}

	return w.Bytes()
}
