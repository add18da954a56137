package comdoc

import "fmt"

// Sectors performs raw big-sector I/O against the byte image. Sector data
// starts immediately after the header, so sector s occupies
// [512 + s*len, 512 + (s+1)*len).
type Sectors struct {
	header *Header
	image  *Image
}

func NewSectors(header *Header, image *Image) *Sectors {
	return &Sectors{header: header, image: image}
}

func (s *Sectors) SectorLen() int {
	return s.header.SectorLen()
}

func (s *Sectors) MiniSectorLen() int {
	return s.header.MiniSectorLen()
}

// MiniSectorsPerSector is how many short sectors one big sector of the
// mini-stream container carries.
func (s *Sectors) MiniSectorsPerSector() int {
	return s.SectorLen() / s.MiniSectorLen()
}

// NumSectors estimates the sector count from the image length, for bounds
// checks while parsing.
func (s *Sectors) NumSectors() (uint32, error) {
	size, err := s.image.Size()
	if err != nil {
		return 0, err
	}

	sectorLen := int64(s.SectorLen())
	n := (size + sectorLen - 1) / sectorLen
	if n > 0 {
		n-- // the header slot
	}
	return uint32(n), nil
}

func (s *Sectors) Offset(sectorId uint32) int64 {
	return int64(HEADER_LEN) + int64(sectorId)*int64(s.SectorLen())
}

func (s *Sectors) ReadSector(sectorId uint32) ([]byte, error) {
	if sectorId > MAX_REGULAR_SECTOR {
		return nil, fmt.Errorf("read of irregular sector id %v", sectorId)
	}

	buf := make([]byte, s.SectorLen())
	if err := s.image.ReadAt(buf, s.Offset(sectorId)); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadSectorAt fills p from the given offset within one sector.
func (s *Sectors) ReadSectorAt(sectorId uint32, offset int, p []byte) error {
	if offset+len(p) > s.SectorLen() {
		return fmt.Errorf("read of %v bytes at offset %v crosses sector boundary", len(p), offset)
	}
	return s.image.ReadAt(p, s.Offset(sectorId)+int64(offset))
}

// WriteSector stores one sector worth of bytes. Short buffers are
// zero-padded to the sector length so image growth stays sector-aligned.
func (s *Sectors) WriteSector(sectorId uint32, p []byte) error {
	if len(p) > s.SectorLen() {
		return fmt.Errorf("write of %v bytes exceeds sector length %v", len(p), s.SectorLen())
	}

	if len(p) < s.SectorLen() {
		padded := make([]byte, s.SectorLen())
		copy(padded, p)
		p = padded
	}

	return s.image.WriteAt(p, s.Offset(sectorId))
}

// WriteSectorAt stores p at the given offset within one sector, leaving the
// rest of the sector untouched.
func (s *Sectors) WriteSectorAt(sectorId uint32, offset int, p []byte) error {
	if offset+len(p) > s.SectorLen() {
		return fmt.Errorf("write of %v bytes at offset %v crosses sector boundary", len(p), offset)
	}
	return s.image.WriteAt(p, s.Offset(sectorId)+int64(offset))
}
