package comdoc

import (
	"fmt"

	"go.uber.org/zap"
)

// MiniAlloc owns the MiniFAT and the mini-stream container: the big-sector
// chain rooted at the root entry from which all 64-byte mini sectors are
// carved.
type MiniAlloc struct {
	Directory *Directory
	Minifat   []uint32

	log *zap.Logger
}

func NewMiniAlloc(d *Directory, minifat []uint32, log *zap.Logger) (*MiniAlloc, error) {
	alloc := MiniAlloc{
		Directory: d,
		Minifat:   minifat,
		log:       log,
	}

	if err := alloc.Validate(); err != nil {
		return nil, err
	}

	return &alloc, nil
}

func NewEmptyMiniAlloc(d *Directory, log *zap.Logger) *MiniAlloc {
	return &MiniAlloc{Directory: d, log: log}
}

func (a *MiniAlloc) header() *Header {
	return a.Directory.Header
}

func (a *MiniAlloc) alloc() *Allocator {
	return a.Directory.Alloc
}

// Next returns the chain successor of the given mini sector.
func (a *MiniAlloc) Next(index uint32) (uint32, error) {
	if index >= uint32(len(a.Minifat)) {
		return 0, fmt.Errorf("mini sector %v outside miniFAT of %v entries: %w",
			index, len(a.Minifat), ErrorCorruptChain)
	}

	nextId := a.Minifat[index]
	if nextId != END_OF_CHAIN && (nextId > MAX_REGULAR_SECTOR || nextId >= uint32(len(a.Minifat))) {
		return 0, fmt.Errorf("mini sector %v links to invalid mini sector %v: %w",
			index, nextId, ErrorCorruptChain)
	}

	return nextId, nil
}

// FollowChain collects a mini-sector chain, rejecting cycles.
func (a *MiniAlloc) FollowChain(start uint32) ([]uint32, error) {
	return followChain(start, a.Minifat)
}

// ContainerChain is the big-sector chain backing the mini stream.
func (a *MiniAlloc) ContainerChain() ([]uint32, error) {
	start := a.Directory.RootDirEntry().StartingSector
	if start == END_OF_CHAIN || start == FREE_SECTOR {
		return nil, nil
	}
	return a.alloc().FollowChain(start)
}

// locate maps a mini sector id to its big sector and offset within it.
func (a *MiniAlloc) locate(miniSectorId uint32) (uint32, int, error) {
	chain, err := a.ContainerChain()
	if err != nil {
		return 0, 0, err
	}

	perSector := a.alloc().Sectors.MiniSectorsPerSector()
	idx := int(miniSectorId) / perSector
	if idx >= len(chain) {
		return 0, 0, fmt.Errorf("mini sector %v lies outside the %v-sector container: %w",
			miniSectorId, len(chain), ErrorCorruptChain)
	}

	offset := (int(miniSectorId) % perSector) * a.alloc().Sectors.MiniSectorLen()
	return chain[idx], offset, nil
}

// ReadMiniSector reads one 64-byte mini sector through the container.
func (a *MiniAlloc) ReadMiniSector(miniSectorId uint32) ([]byte, error) {
	sector, offset, err := a.locate(miniSectorId)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, a.alloc().Sectors.MiniSectorLen())
	if err := a.alloc().Sectors.ReadSectorAt(sector, offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteMiniSector stores one mini sector worth of bytes, zero-padding a
// short buffer.
func (a *MiniAlloc) WriteMiniSector(miniSectorId uint32, p []byte) error {
	miniLen := a.alloc().Sectors.MiniSectorLen()
	if len(p) > miniLen {
		return fmt.Errorf("write of %v bytes exceeds mini sector length %v", len(p), miniLen)
	}

	if len(p) < miniLen {
		padded := make([]byte, miniLen)
		copy(padded, p)
		p = padded
	}

	sector, offset, err := a.locate(miniSectorId)
	if err != nil {
		return err
	}

	return a.alloc().Sectors.WriteSectorAt(sector, offset, p)
}

// AllocateMiniSector claims the first free miniFAT slot. When the miniFAT
// is full it gains a slab hosted in a fresh big sector linked onto the
// miniFAT chain; the mini-stream container then grows until it covers the
// claimed mini sector.
func (a *MiniAlloc) AllocateMiniSector() (uint32, error) {
	free := a.findFree()

	if free == FREE_SECTOR {
		if err := a.growMinifat(); err != nil {
			return 0, err
		}
		free = a.findFree()
	}

	a.Minifat[free] = END_OF_CHAIN

	if err := a.WriteMinifat(); err != nil {
		return 0, err
	}

	if err := a.ensureContainer(free); err != nil {
		return 0, err
	}

	return free, nil
}

// AllocateMiniChain claims count mini sectors linked into one chain.
func (a *MiniAlloc) AllocateMiniChain(count int) ([]uint32, error) {
	if count == 0 {
		return nil, nil
	}

	chain := make([]uint32, 0, count)

	current, err := a.AllocateMiniSector()
	if err != nil {
		return nil, err
	}
	chain = append(chain, current)

	for i := 1; i < count; i++ {
		next, err := a.AllocateMiniSector()
		if err != nil {
			return nil, err
		}

		a.Minifat[current] = next
		chain = append(chain, next)
		current = next
	}

	if err := a.WriteMinifat(); err != nil {
		return nil, err
	}

	return chain, nil
}

func (a *MiniAlloc) findFree() uint32 {
	for i, e := range a.Minifat {
		if e == FREE_SECTOR {
			return uint32(i)
		}
	}
	return FREE_SECTOR
}

func (a *MiniAlloc) growMinifat() error {
	newSlab, err := a.alloc().AllocateSector()
	if err != nil {
		return err
	}

	h := a.header()
	h.NumMinifatSectors++

	if h.FirstMinifatSector == END_OF_CHAIN {
		h.FirstMinifatSector = newSlab
	} else {
		chain, err := a.alloc().FollowChain(h.FirstMinifatSector)
		if err != nil {
			return err
		}

		a.alloc().Fat[chain[len(chain)-1]] = newSlab
		if err := a.alloc().WriteFat(); err != nil {
			return err
		}
	}

	entriesPerSector := a.alloc().Sectors.SectorLen() / 4
	for i := 0; i < entriesPerSector; i++ {
		a.Minifat = append(a.Minifat, FREE_SECTOR)
	}

	a.log.Debug("grew miniFAT",
		zap.Uint32("slab_sector", newSlab),
		zap.Int("minifat_entries", len(a.Minifat)))

	return a.WriteMinifat()
}

// ensureContainer grows the mini-stream container until it covers the
// given mini sector, allocating the root entry's first sector on demand.
// The root entry tracks the container length as its stream size.
func (a *MiniAlloc) ensureContainer(miniSectorId uint32) error {
	perSector := a.alloc().Sectors.MiniSectorsPerSector()
	required := int(miniSectorId)/perSector + 1

	root := a.Directory.RootDirEntry()
	rootDirty := false

	if root.StartingSector == END_OF_CHAIN || root.StartingSector == FREE_SECTOR {
		first, err := a.alloc().AllocateSector()
		if err != nil {
			return err
		}
		root.StartingSector = first
		rootDirty = true
	}

	chain, err := a.alloc().FollowChain(root.StartingSector)
	if err != nil {
		return err
	}

	for len(chain) < required {
		next, err := a.alloc().ExtendChain(chain[len(chain)-1])
		if err != nil {
			return err
		}
		chain = append(chain, next)
	}

	containerLen := uint64(len(chain)) * uint64(a.alloc().Sectors.SectorLen())
	if root.StreamSize != containerLen {
		root.StreamSize = containerLen
		rootDirty = true
	}

	if rootDirty {
		if err := a.Directory.WriteEntry(ROOT_STREAM_ID); err != nil {
			return err
		}
	}

	return nil
}

// PadToSlabBoundary restores the trailing FREE entries dropped while
// loading, so the miniFAT again spans every slab on its chain.
func (a *MiniAlloc) PadToSlabBoundary() error {
	chain, err := a.alloc().FollowChain(a.header().FirstMinifatSector)
	if err != nil {
		return err
	}

	target := len(chain) * (a.alloc().Sectors.SectorLen() / 4)
	for len(a.Minifat) < target {
		a.Minifat = append(a.Minifat, FREE_SECTOR)
	}

	return nil
}

// WriteMinifat persists the miniFAT by walking its chain through the FAT.
func (a *MiniAlloc) WriteMinifat() error {
	chain, err := a.alloc().FollowChain(a.header().FirstMinifatSector)
	if err != nil {
		return err
	}

	entriesPerSector := a.alloc().Sectors.SectorLen() / 4

	for i, slabSector := range chain {
		w := newByteWriter(a.alloc().Sectors.SectorLen())

		for j := i * entriesPerSector; j < (i+1)*entriesPerSector; j++ {
			if j < len(a.Minifat) {
				w.U32(a.Minifat[j])
			} else {
				w.U32(FREE_SECTOR)
			}
		}

		if err := a.alloc().Sectors.WriteSector(slabSector, w.Bytes()); err != nil {
			return err
		}
	}

	return nil
}

func (a *MiniAlloc) Validate() error {
	root := a.Directory.RootDirEntry()
	rootMiniSectors := root.StreamSize / uint64(MINI_SECTOR_LEN)

	if rootMiniSectors < uint64(len(a.Minifat)) {
		return fmt.Errorf("miniFAT has %v entries, but the container holds only %v mini sectors: %w",
			len(a.Minifat), rootMiniSectors, ErrorNotCompoundDocument)
	}

	pointees := make(map[uint32]bool)
	for idx, next := range a.Minifat {
		if next <= MAX_REGULAR_SECTOR {
			if next >= uint32(len(a.Minifat)) {
				return fmt.Errorf("miniFAT entry %v points to mini sector %v of %v: %w",
					idx, next, len(a.Minifat), ErrorCorruptChain)
			}

			if pointees[next] {
				return fmt.Errorf("mini sector %v is pointed to twice: %w", next, ErrorCorruptChain)
			}
			pointees[next] = true
		}
	}

	return nil
}
