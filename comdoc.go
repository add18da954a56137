// Package comdoc reads and writes Microsoft Compound File Binary images:
// the hierarchical stream container used by legacy Office documents and by
// the envelope of password-protected OOXML files.
package comdoc

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// CompoundFile is one open document over one byte image.
type CompoundFile struct {
	Image     *Image
	Header    *Header
	Sectors   *Sectors
	Allocator *Allocator
	MiniAlloc *MiniAlloc
	Directory *Directory

	log *zap.Logger
}

// Open parses an existing document from a seekable byte source. The whole
// structural skeleton is loaded eagerly: header, DIFAT, FAT, miniFAT, and
// every directory entry; stream payloads stay on the image until read.
func Open(reader io.ReadSeeker, opts ...Option) (*CompoundFile, error) {
	return openImage(OpenImage(reader), opts)
}

// OpenWritable parses an existing document and keeps the image open for
// modification.
func OpenWritable(rw io.ReadWriteSeeker, opts ...Option) (*CompoundFile, error) {
	return openImage(CreateImage(rw), opts)
}

func openImage(image *Image, opts []Option) (*CompoundFile, error) {
	c := defaultCfg()
	for _, opt := range opts {
		opt(c)
	}

	size, err := image.Size()
	if err != nil {
		return nil, err
	}
	if size < int64(HEADER_LEN) {
		return nil, fmt.Errorf("image is %v bytes: %w", size, ErrorNotCompoundDocument)
	}

	headerBuf := make([]byte, HEADER_LEN)
	if err := image.ReadAt(headerBuf, 0); err != nil {
		return nil, err
	}

	header, err := DecodeHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	sectors := NewSectors(header, image)

	numSectors, err := sectors.NumSectors()
	if err != nil {
		return nil, err
	}
	if size > (int64(MAX_REGULAR_SECTOR)+1)*int64(sectors.SectorLen()) {
		return nil, fmt.Errorf("image is too large: %w", ErrorNotCompoundDocument)
	}

	difat, difatSectorIds, err := readDifat(header, sectors, numSectors, c.validation)
	if err != nil {
		return nil, err
	}

	fat, err := readFat(header, sectors, difat, numSectors, c.validation)
	if err != nil {
		return nil, err
	}

	allocator, err := NewAllocator(sectors, header, difatSectorIds, difat, fat, c.validation, c.log)
	if err != nil {
		return nil, err
	}

	dirEntries, err := readDirEntries(header, allocator, c.validation)
	if err != nil {
		return nil, err
	}

	directory, err := NewDirectory(allocator, dirEntries, c.validation, c.log)
	if err != nil {
		return nil, err
	}

	minifat, err := readMinifat(header, allocator, c.validation)
	if err != nil {
		return nil, err
	}

	miniAlloc, err := NewMiniAlloc(directory, minifat, c.log)
	if err != nil {
		return nil, err
	}

	if image.Writable() {
		allocator.PadToSlabBoundary()
		if err := miniAlloc.PadToSlabBoundary(); err != nil {
			return nil, err
		}
	}

	c.log.Debug("opened document",
		zap.Int64("image_bytes", size),
		zap.Int("fat_entries", len(fat)),
		zap.Int("minifat_entries", len(minifat)),
		zap.Int("dir_entries", len(dirEntries)))

	return &CompoundFile{
		Image:     image,
		Header:    header,
		Sectors:   sectors,
		Allocator: allocator,
		MiniAlloc: miniAlloc,
		Directory: directory,
		log:       c.log,
	}, nil
}

// Create starts a fresh document on a writable byte image: a default
// header plus the root storage entry.
func Create(sink io.ReadWriteSeeker, opts ...Option) (*CompoundFile, error) {
	c := defaultCfg()
	for _, opt := range opts {
		opt(c)
	}

	image := CreateImage(sink)
	header := NewHeader()
	sectors := NewSectors(header, image)
	allocator := NewEmptyAllocator(sectors, header, c.log)
	directory := NewEmptyDirectory(allocator, c.log)
	miniAlloc := NewEmptyMiniAlloc(directory, c.log)

	doc := &CompoundFile{
		Image:     image,
		Header:    header,
		Sectors:   sectors,
		Allocator: allocator,
		MiniAlloc: miniAlloc,
		Directory: directory,
		log:       c.log,
	}

	if err := doc.writeHeader(); err != nil {
		return nil, err
	}

	if _, err := directory.InsertEntry(ROOT_DIR_NAME, Root, ROOT_STREAM_ID, 0); err != nil {
		return nil, err
	}

	if err := doc.writeHeader(); err != nil {
		return nil, err
	}

	c.log.Debug("created document")

	return doc, nil
}

func (c *CompoundFile) writeHeader() error {
	if !c.Image.Writable() {
		return nil
	}
	return c.Image.WriteAt(c.Header.Encode(), 0)
}

// RootEntry returns the public view of the root storage.
func (c *CompoundFile) RootEntry() *Entry {
	return NewEntry(c.Directory.RootDirEntry(), "/")
}

// resolvePath maps an absolute path to a directory id. "/" and
// "/Root Entry" name the root storage itself.
func (c *CompoundFile) resolvePath(path string) (uint32, error) {
	names := NameChainFromPath(path)

	if len(names) == 0 || (len(names) == 1 && names[0] == ROOT_DIR_NAME) {
		return ROOT_STREAM_ID, nil
	}

	return c.Directory.ResolveNameChain(names)
}

// Contains reports whether the path resolves to an entry of the given
// object type.
func (c *CompoundFile) Contains(path string, objType ObjectType) bool {
	id, err := c.resolvePath(path)
	if err != nil {
		return false
	}

	return c.Directory.DirEntries[id].ObjType == objType
}

// OpenStream opens the named user stream for reading.
func (c *CompoundFile) OpenStream(path string) (*StreamReader, error) {
	id, err := c.resolvePath(path)
	if err != nil {
		return nil, err
	}

	if c.Directory.DirEntries[id].ObjType != Stream {
		return nil, fmt.Errorf("not a stream: %s: %w", path, ErrorNotFound)
	}

	return newStream(c, id)
}

// CreateStream opens the named user stream for writing, inserting it
// under its parent storage first when absent. The payload is buffered and
// laid out when the returned writer is closed.
func (c *CompoundFile) CreateStream(path string) (*StreamWriter, error) {
	id, err := c.findOrInsert(path, Stream)
	if err != nil {
		return nil, err
	}

	return newStreamWriter(c, id), nil
}

// CreateStorage inserts a storage at the given path. Creating a storage
// that already exists is not an error.
func (c *CompoundFile) CreateStorage(path string) error {
	_, err := c.findOrInsert(path, Storage)
	return err
}

func (c *CompoundFile) findOrInsert(path string, objType ObjectType) (uint32, error) {
	if !c.Image.Writable() {
		return 0, fmt.Errorf("document is read-only")
	}

	names := NameChainFromPath(path)
	if len(names) == 0 {
		return 0, fmt.Errorf("path %q names no entry: %w", path, ErrorInvalidName)
	}

	name := names[len(names)-1]

	parentId := ROOT_STREAM_ID
	if len(names) > 1 {
		var err error
		parentId, err = c.Directory.ResolveNameChain(names[:len(names)-1])
		if err != nil {
			return 0, err
		}
	}

	parentType := c.Directory.DirEntries[parentId].ObjType
	if parentType != Root && parentType != Storage {
		return 0, fmt.Errorf("parent of %q is not a storage: %w", path, ErrorNotFound)
	}

	if id, err := c.Directory.Lookup(parentId, name); err == nil {
		if c.Directory.DirEntries[id].ObjType != objType {
			return 0, fmt.Errorf("%q exists with object type %v: %w",
				path, c.Directory.DirEntries[id].ObjType, ErrorInvalidName)
		}
		return id, nil
	}

	id, err := c.Directory.InsertEntry(name, objType, parentId, 0)
	if err != nil {
		return 0, err
	}

	if err := c.writeHeader(); err != nil {
		return 0, err
	}

	c.log.Debug("inserted entry",
		zap.String("path", path),
		zap.Stringer("type", objType),
		zap.Uint32("id", id))

	return id, nil
}

// List returns every storage and stream with its absolute path, in
// directory id order.
func (c *CompoundFile) List() []*Entry {
	entries := make([]*Entry, 0)

	for id, dirEntry := range c.Directory.DirEntries {
		if uint32(id) == ROOT_STREAM_ID {
			continue
		}

		if dirEntry.ObjType != Storage && dirEntry.ObjType != Stream {
			continue
		}

		entries = append(entries, NewEntry(dirEntry, c.Directory.Path(uint32(id))))
	}

	return entries
}

// Close flushes the header. Streams opened on the document must not be
// used afterwards.
func (c *CompoundFile) Close() error {
	return c.writeHeader()
}

func readDifat(header *Header, sectors *Sectors, numSectors uint32, validation Validation) ([]uint32, []uint32, error) {
	difat := make([]uint32, 0, NUM_DIFAT_ENTRIES_IN_HEADER)
	difat = append(difat, header.InitialDifatEntries[:]...)

	difatSectorIds := make([]uint32, 0)
	seen := make(map[uint32]bool)
	current := header.FirstDifatSector
	entriesPerSector := sectors.SectorLen() / 4

	for current != END_OF_CHAIN {
		if current > MAX_REGULAR_SECTOR {
			return nil, nil, fmt.Errorf("DIFAT chain includes irregular sector %v: %w", current, ErrorNotCompoundDocument)
		}
		if current >= numSectors {
			return nil, nil, fmt.Errorf("DIFAT chain includes sector %v of %v: %w", current, numSectors, ErrorNotCompoundDocument)
		}
		if seen[current] {
			return nil, nil, fmt.Errorf("DIFAT chain repeats sector %v: %w", current, ErrorCorruptChain)
		}

		seen[current] = true
		difatSectorIds = append(difatSectorIds, current)

		buf, err := sectors.ReadSector(current)
		if err != nil {
			return nil, nil, err
		}

		r := newByteReader(buf)
		for i := 0; i < entriesPerSector-1; i++ {
			next := r.U32()
			if next != FREE_SECTOR && next > MAX_REGULAR_SECTOR {
				return nil, nil, fmt.Errorf("DIFAT refers to irregular sector %v: %w", next, ErrorNotCompoundDocument)
			}
			difat = append(difat, next)
		}

		current = r.U32()
	}

	if validation.IsStrict() && header.NumDifatSectors != uint32(len(difatSectorIds)) {
		return nil, nil, fmt.Errorf("header says %v DIFAT sectors, chain has %v: %w",
			header.NumDifatSectors, len(difatSectorIds), ErrorNotCompoundDocument)
	}

	for len(difat) > 0 && difat[len(difat)-1] == FREE_SECTOR {
		difat = difat[:len(difat)-1]
	}

	if validation.IsStrict() && header.NumFatSectors != uint32(len(difat)) {
		return nil, nil, fmt.Errorf("header says %v FAT sectors, DIFAT lists %v: %w",
			header.NumFatSectors, len(difat), ErrorNotCompoundDocument)
	}

	return difat, difatSectorIds, nil
}

func readFat(header *Header, sectors *Sectors, difat []uint32, numSectors uint32, validation Validation) ([]uint32, error) {
	fat := make([]uint32, 0, len(difat)*sectors.SectorLen()/4)

	for _, sectorId := range difat {
		if sectorId >= numSectors {
			return nil, fmt.Errorf("FAT sector %v outside image of %v sectors: %w",
				sectorId, numSectors, ErrorNotCompoundDocument)
		}

		buf, err := sectors.ReadSector(sectorId)
		if err != nil {
			return nil, err
		}

		r := newByteReader(buf)
		for i := 0; i < sectors.SectorLen()/4; i++ {
			fat = append(fat, r.U32())
		}
	}

	// Some writers pad the final FAT slab with zeros instead of FREE_SECTOR.
	if !validation.IsStrict() {
		for len(fat) > int(numSectors) && fat[len(fat)-1] == 0 {
			fat = fat[:len(fat)-1]
		}
	}

	for len(fat) > 0 && fat[len(fat)-1] == FREE_SECTOR {
		fat = fat[:len(fat)-1]
	}

	return fat, nil
}

func readDirEntries(header *Header, allocator *Allocator, validation Validation) ([]*DirEntry, error) {
	chain, err := allocator.FollowChain(header.FirstDirSector)
	if err != nil {
		return nil, err
	}

	version := header.Version
	entriesPerSector := version.DirEntriesPerSector()
	dirEntries := make([]*DirEntry, 0, len(chain)*entriesPerSector)

	for _, sectorId := range chain {
		buf, err := allocator.Sectors.ReadSector(sectorId)
		if err != nil {
			return nil, err
		}

		for i := 0; i < entriesPerSector; i++ {
			entry, err := DecodeDirEntry(buf[i*DIR_ENTRY_LEN:(i+1)*DIR_ENTRY_LEN], version, validation)
			if err != nil {
				return nil, err
			}

			dirEntries = append(dirEntries, entry)
		}
	}

	return dirEntries, nil
}

func readMinifat(header *Header, allocator *Allocator, validation Validation) ([]uint32, error) {
	chain, err := allocator.FollowChain(header.FirstMinifatSector)
	if err != nil {
		return nil, err
	}

	if validation.IsStrict() && header.NumMinifatSectors != uint32(len(chain)) {
		return nil, fmt.Errorf("header says %v miniFAT sectors, FAT says %v: %w",
			header.NumMinifatSectors, len(chain), ErrorNotCompoundDocument)
	}

	minifat := make([]uint32, 0, len(chain)*allocator.Sectors.SectorLen()/4)

	for _, sectorId := range chain {
		buf, err := allocator.Sectors.ReadSector(sectorId)
		if err != nil {
			return nil, err
		}

		r := newByteReader(buf)
		for i := 0; i < allocator.Sectors.SectorLen()/4; i++ {
			minifat = append(minifat, r.U32())
		}
	}

	for len(minifat) > 0 && minifat[len(minifat)-1] == FREE_SECTOR {
		minifat = minifat[:len(minifat)-1]
	}

	return minifat, nil
}
