package comdoc

import (
	"fmt"

	"go.uber.org/zap"
)

// Allocator owns the FAT and the DIFAT: every big-sector allocation and
// chain traversal goes through it. Difat lists the sector ids holding FAT
// slabs (first 109 mirrored in the header); DifatSectorIds lists the
// sectors holding the DIFAT overflow chain itself.
type Allocator struct {
	Sectors        *Sectors
	Header         *Header
	DifatSectorIds []uint32
	Difat          []uint32
	Fat            []uint32
	Validation     Validation

	log *zap.Logger
}

func NewAllocator(sectors *Sectors, header *Header, difatSectorIds, difat, fat []uint32, validation Validation, log *zap.Logger) (*Allocator, error) {
	alloc := Allocator{
		Sectors:        sectors,
		Header:         header,
		DifatSectorIds: difatSectorIds,
		Difat:          difat,
		Fat:            fat,
		Validation:     validation,
		log:            log,
	}

	if err := alloc.Validate(); err != nil {
		return nil, err
	}

	return &alloc, nil
}

// NewEmptyAllocator is the starting state of a freshly created document:
// no FAT slabs at all until the first allocation asks for one.
func NewEmptyAllocator(sectors *Sectors, header *Header, log *zap.Logger) *Allocator {
	return &Allocator{
		Sectors: sectors,
		Header:  header,
		log:     log,
	}
}

// Next returns the chain successor of the given sector.
func (a *Allocator) Next(index uint32) (uint32, error) {
	if index >= uint32(len(a.Fat)) {
		return 0, fmt.Errorf("sector %v outside FAT of %v entries: %w", index, len(a.Fat), ErrorCorruptChain)
	}

	nextId := a.Fat[index]
	if nextId != END_OF_CHAIN && (nextId > MAX_REGULAR_SECTOR || nextId >= uint32(len(a.Fat))) {
		return 0, fmt.Errorf("sector %v links to invalid sector %v: %w", index, nextId, ErrorCorruptChain)
	}

	return nextId, nil
}

// FollowChain collects the chain starting at start until END_OF_CHAIN. A
// walk longer than the FAT means the chain cycles.
func (a *Allocator) FollowChain(start uint32) ([]uint32, error) {
	return followChain(start, a.Fat)
}

func followChain(start uint32, table []uint32) ([]uint32, error) {
	chain := make([]uint32, 0)
	current := start

	for current != END_OF_CHAIN && current != FREE_SECTOR {
		if current > MAX_REGULAR_SECTOR || current >= uint32(len(table)) {
			return nil, fmt.Errorf("chain includes invalid sector %v: %w", current, ErrorCorruptChain)
		}

		if len(chain) >= len(table) {
			return nil, fmt.Errorf("chain from sector %v exceeds table length %v: %w", start, len(table), ErrorCorruptChain)
		}

		chain = append(chain, current)
		current = table[current]
	}

	return chain, nil
}

// AllocateSector claims the first free FAT slot, growing the FAT by one
// slab when none is left. The claimed sector is marked END_OF_CHAIN,
// zero-filled on disk, and the FAT is persisted.
func (a *Allocator) AllocateSector() (uint32, error) {
	free := a.findFree()

	if free == FREE_SECTOR {
		if err := a.growFat(); err != nil {
			return 0, err
		}
		free = a.findFree()
	}

	a.Fat[free] = END_OF_CHAIN

	if err := a.WriteFat(); err != nil {
		return 0, err
	}

	if err := a.Sectors.WriteSector(free, nil); err != nil {
		return 0, err
	}

	return free, nil
}

// AllocateChain claims count sectors and links them into one chain,
// returning the ordered sector ids. The last sector stays END_OF_CHAIN.
func (a *Allocator) AllocateChain(count int) ([]uint32, error) {
	if count == 0 {
		return nil, nil
	}

	chain := make([]uint32, 0, count)

	current, err := a.AllocateSector()
	if err != nil {
		return nil, err
	}
	chain = append(chain, current)

	for i := 1; i < count; i++ {
		next, err := a.AllocateSector()
		if err != nil {
			return nil, err
		}

		a.Fat[current] = next
		chain = append(chain, next)
		current = next
	}

	if err := a.WriteFat(); err != nil {
		return nil, err
	}

	return chain, nil
}

// ExtendChain links one freshly allocated sector onto the tail of an
// existing chain and returns its id.
func (a *Allocator) ExtendChain(tail uint32) (uint32, error) {
	next, err := a.AllocateSector()
	if err != nil {
		return 0, err
	}

	a.Fat[tail] = next

	if err := a.WriteFat(); err != nil {
		return 0, err
	}

	return next, nil
}

func (a *Allocator) findFree() uint32 {
	for i, e := range a.Fat {
		if e == FREE_SECTOR {
			return uint32(i)
		}
	}
	return FREE_SECTOR
}

// growFat adds one FAT slab. The slab lands on the first sector it covers
// itself, so the new id is the old FAT length.
func (a *Allocator) growFat() error {
	if len(a.Difat) >= NUM_DIFAT_ENTRIES_IN_HEADER {
		return fmt.Errorf("FAT already spans %v sectors; DIFAT overflow is not supported on the write path",
			len(a.Difat))
	}

	newSatSector := uint32(len(a.Fat))

	a.Difat = append(a.Difat, newSatSector)
	a.Header.InitialDifatEntries[len(a.Difat)-1] = newSatSector
	a.Header.NumFatSectors = uint32(len(a.Difat))

	entriesPerSector := a.Sectors.SectorLen() / 4
	for i := 0; i < entriesPerSector; i++ {
		a.Fat = append(a.Fat, FREE_SECTOR)
	}
	a.Fat[newSatSector] = FAT_SECTOR

	a.log.Debug("grew FAT",
		zap.Uint32("slab_sector", newSatSector),
		zap.Int("fat_entries", len(a.Fat)))

	return a.WriteFat()
}

// PadToSlabBoundary restores the trailing FREE entries dropped while
// loading, so that the FAT again covers every sector its slabs describe.
// Required before allocating against a loaded document.
func (a *Allocator) PadToSlabBoundary() {
	target := len(a.Difat) * (a.Sectors.SectorLen() / 4)
	for len(a.Fat) < target {
		a.Fat = append(a.Fat, FREE_SECTOR)
	}
}

// WriteFat persists every FAT slab to the sector its DIFAT entry names.
func (a *Allocator) WriteFat() error {
	entriesPerSector := a.Sectors.SectorLen() / 4

	for i, satSector := range a.Difat {
		w := newByteWriter(a.Sectors.SectorLen())
		for _, e := range a.Fat[i*entriesPerSector : (i+1)*entriesPerSector] {
			w.U32(e)
		}

		if err := a.Sectors.WriteSector(satSector, w.Bytes()); err != nil {
			return err
		}
	}

	return nil
}

func (a *Allocator) Validate() error {
	numSectors, err := a.Sectors.NumSectors()
	if err != nil {
		return err
	}

	if uint32(len(a.Fat)) > numSectors {
		return fmt.Errorf("FAT has %v entries, but image has %v sectors: %w",
			len(a.Fat), numSectors, ErrorNotCompoundDocument)
	}

	for _, difatSector := range a.DifatSectorIds {
		if difatSector >= uint32(len(a.Fat)) {
			return fmt.Errorf("FAT has %v entries, but DIFAT chain occupies sector %v: %w",
				len(a.Fat), difatSector, ErrorNotCompoundDocument)
		}

		if a.Fat[difatSector] != DIFAT_SECTOR {
			if a.Validation.IsStrict() {
				return fmt.Errorf("DIFAT sector %v is not marked as such in the FAT: %w", difatSector, ErrorNotCompoundDocument)
			}
			a.Fat[difatSector] = DIFAT_SECTOR
		}
	}

	for _, satSector := range a.Difat {
		if satSector >= uint32(len(a.Fat)) {
			return fmt.Errorf("FAT has %v entries, but DIFAT lists sector %v as a FAT sector: %w",
				len(a.Fat), satSector, ErrorNotCompoundDocument)
		}

		if a.Fat[satSector] != FAT_SECTOR {
			if a.Validation.IsStrict() {
				return fmt.Errorf("FAT sector %v is not marked as such in the FAT: %w", satSector, ErrorNotCompoundDocument)
			}
			a.Fat[satSector] = FAT_SECTOR
		}
	}

	pointees := make(map[uint32]bool)
	for fatIdx, next := range a.Fat {
		if next <= MAX_REGULAR_SECTOR {
			if next >= uint32(len(a.Fat)) {
				return fmt.Errorf("FAT entry %v points to sector %v, but FAT has only %v entries: %w",
					fatIdx, next, len(a.Fat), ErrorCorruptChain)
			}
			if pointees[next] {
				return fmt.Errorf("FAT entry %v points to sector %v, which is already pointed to: %w",
					fatIdx, next, ErrorCorruptChain)
			}
			pointees[next] = true
		} else if next == INVALID_SECTOR {
			return fmt.Errorf("FAT entry %v holds the invalid sector marker: %w", fatIdx, ErrorNotCompoundDocument)
		}
	}

	return nil
}
