package comdoc

import (
	"fmt"

	"go.uber.org/zap"
)

// Directory holds every 128-byte entry of the document plus the transient
// relationships the on-disk form leaves out: the tree parent of each entry
// and the storage each entry belongs to. Both are rebuilt on load and are
// never persisted.
type Directory struct {
	Alloc      *Allocator
	Header     *Header
	DirEntries []*DirEntry

	parent        []uint32
	parentStorage []uint32
	dirty         map[uint32]bool

	validation Validation
	log        *zap.Logger
}

func NewDirectory(alloc *Allocator, dirEntries []*DirEntry, validation Validation, log *zap.Logger) (*Directory, error) {
	dir := Directory{
		Alloc:      alloc,
		Header:     alloc.Header,
		DirEntries: dirEntries,
		dirty:      make(map[uint32]bool),
		validation: validation,
		log:        log,
	}

	if err := dir.Validate(); err != nil {
		return nil, err
	}

	if err := dir.rebuildParents(); err != nil {
		return nil, err
	}

	return &dir, nil
}

// NewEmptyDirectory is the starting state of a freshly created document;
// the root entry is inserted by the caller.
func NewEmptyDirectory(alloc *Allocator, log *zap.Logger) *Directory {
	return &Directory{
		Alloc:  alloc,
		Header: alloc.Header,
		dirty:  make(map[uint32]bool),
		log:    log,
	}
}

func (d *Directory) RootDirEntry() *DirEntry {
	return d.DirEntries[ROOT_STREAM_ID]
}

func (d *Directory) EntriesPerSector() int {
	return d.Alloc.Sectors.SectorLen() / DIR_ENTRY_LEN
}

// ParentStorage reports the storage an entry belongs to.
func (d *Directory) ParentStorage(id uint32) uint32 {
	return d.parentStorage[id]
}

// Path builds the absolute slash-separated path of an entry by walking the
// enclosing storages up to the root.
func (d *Directory) Path(id uint32) string {
	names := make([]string, 0)

	for id != ROOT_STREAM_ID {
		names = append(names, d.DirEntries[id].Name)
		id = d.parentStorage[id]
	}

	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}

	return PathFromNameChain(names)
}

// WriteEntry persists one entry through the directory chain.
func (d *Directory) WriteEntry(id uint32) error {
	chain, err := d.Alloc.FollowChain(d.Header.FirstDirSector)
	if err != nil {
		return err
	}

	eps := d.EntriesPerSector()
	if int(id)/eps >= len(chain) {
		return fmt.Errorf("entry %v lies outside the directory chain of %v sectors", id, len(chain))
	}

	buf, err := d.DirEntries[id].Encode()
	if err != nil {
		return err
	}

	sector := chain[int(id)/eps]
	offset := (int(id) % eps) * DIR_ENTRY_LEN
	return d.Alloc.Sectors.WriteSectorAt(sector, offset, buf)
}

// NextEmptyEntry returns the first unallocated entry id, growing the
// directory by one sector of empty entries when every slot is taken. The
// new sector is linked onto the directory chain, or becomes its head when
// the directory was empty.
func (d *Directory) NextEmptyEntry() (uint32, error) {
	for id, entry := range d.DirEntries {
		if entry.ObjType == Unallocated {
			return uint32(id), nil
		}
	}

	newSector, err := d.Alloc.AllocateSector()
	if err != nil {
		return 0, err
	}

	if d.Header.FirstDirSector == END_OF_CHAIN {
		d.Header.FirstDirSector = newSector
	} else {
		chain, err := d.Alloc.FollowChain(d.Header.FirstDirSector)
		if err != nil {
			return 0, err
		}

		d.Alloc.Fat[chain[len(chain)-1]] = newSector
		if err := d.Alloc.WriteFat(); err != nil {
			return 0, err
		}
	}

	firstNewId := uint32(len(d.DirEntries))

	for i := 0; i < d.EntriesPerSector(); i++ {
		d.DirEntries = append(d.DirEntries, NewDirEntry("", Unallocated, 0))
		d.parent = append(d.parent, NO_STREAM)
		d.parentStorage = append(d.parentStorage, NO_STREAM)

		if err := d.WriteEntry(firstNewId + uint32(i)); err != nil {
			return 0, err
		}
	}

	d.log.Debug("grew directory",
		zap.Uint32("sector", newSector),
		zap.Int("entries", len(d.DirEntries)))

	return firstNewId, nil
}

// InsertEntry claims an empty entry, names it, and links it into the
// owning storage's tree. Every entry touched by the rebalance is written
// back before returning.
func (d *Directory) InsertEntry(name string, objType ObjectType, storageId uint32, timestamp uint64) (uint32, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}

	id, err := d.NextEmptyEntry()
	if err != nil {
		return 0, err
	}

	entry := d.DirEntries[id]
	entry.Name = name
	entry.ObjType = objType
	entry.CreationTime = timestamp
	entry.ModifiedTime = timestamp
	entry.StartingSector = END_OF_CHAIN
	entry.StreamSize = 0
	d.markDirty(id)

	d.TreeInsert(id, storageId)

	if err := d.flushDirty(); err != nil {
		return 0, err
	}

	return id, nil
}

func (d *Directory) markDirty(id uint32) {
	d.dirty[id] = true
}

func (d *Directory) flushDirty() error {
	for id := range d.dirty {
		if err := d.WriteEntry(id); err != nil {
			return err
		}
		delete(d.dirty, id)
	}
	return nil
}

// rebuildParents derives the in-memory parent and parent-storage maps by
// walking every storage's tree with explicit stacks.
func (d *Directory) rebuildParents() error {
	d.parent = make([]uint32, len(d.DirEntries))
	d.parentStorage = make([]uint32, len(d.DirEntries))
	for i := range d.parent {
		d.parent[i] = NO_STREAM
		d.parentStorage[i] = NO_STREAM
	}
	d.parentStorage[ROOT_STREAM_ID] = ROOT_STREAM_ID

	storageStack := []uint32{ROOT_STREAM_ID}

	for len(storageStack) > 0 {
		storageId := storageStack[len(storageStack)-1]
		storageStack = storageStack[:len(storageStack)-1]

		rootId := d.DirEntries[storageId].Child
		if rootId == NO_STREAM {
			continue
		}

		d.parent[rootId] = NO_STREAM
		entryStack := []uint32{rootId}

		for len(entryStack) > 0 {
			id := entryStack[len(entryStack)-1]
			entryStack = entryStack[:len(entryStack)-1]

			d.parentStorage[id] = storageId

			entry := d.DirEntries[id]
			if entry.ObjType == Storage {
				storageStack = append(storageStack, id)
			}

			if left := entry.LeftSibling; left != NO_STREAM {
				d.parent[left] = id
				entryStack = append(entryStack, left)
			}

			if right := entry.RightSibling; right != NO_STREAM {
				d.parent[right] = id
				entryStack = append(entryStack, right)
			}
		}
	}

	return nil
}

// Validate checks the structural invariants of a freshly loaded directory:
// a proper root, in-bounds tree links, sibling ordering, and no cycles.
func (d *Directory) Validate() error {
	if len(d.DirEntries) == 0 {
		return fmt.Errorf("directory has no entries: %w", ErrorNotCompoundDocument)
	}

	root := d.RootDirEntry()
	if root.ObjType != Root {
		return fmt.Errorf("first entry has object type %v: %w", root.ObjType, ErrorNotCompoundDocument)
	}

	if root.StreamSize%uint64(MINI_SECTOR_LEN) != 0 {
		return fmt.Errorf("mini stream container is %v bytes, not a multiple of %v: %w",
			root.StreamSize, MINI_SECTOR_LEN, ErrorNotCompoundDocument)
	}

	visited := make(map[uint32]bool)
	stack := []uint32{ROOT_STREAM_ID}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[id] {
			return fmt.Errorf("directory tree has a cycle through entry %v: %w", id, ErrorCorruptChain)
		}
		visited[id] = true

		entry := d.DirEntries[id]

		if id == ROOT_STREAM_ID {
			if entry.ObjType != Root {
				return fmt.Errorf("root entry has object type %v: %w", entry.ObjType, ErrorNotCompoundDocument)
			}
		} else if entry.ObjType != Storage && entry.ObjType != Stream {
			return fmt.Errorf("entry %v has object type %v: %w", id, entry.ObjType, ErrorNotCompoundDocument)
		}

		if left := entry.LeftSibling; left != NO_STREAM {
			if left >= uint32(len(d.DirEntries)) {
				return fmt.Errorf("left sibling %v outside directory of %v entries: %w",
					left, len(d.DirEntries), ErrorNotCompoundDocument)
			}

			if CompareNames(d.DirEntries[left].Name, entry.Name) != OrderLess {
				return fmt.Errorf("entry %q sorts before its left sibling %q: %w",
					entry.Name, d.DirEntries[left].Name, ErrorNotCompoundDocument)
			}

			stack = append(stack, left)
		}

		if right := entry.RightSibling; right != NO_STREAM {
			if right >= uint32(len(d.DirEntries)) {
				return fmt.Errorf("right sibling %v outside directory of %v entries: %w",
					right, len(d.DirEntries), ErrorNotCompoundDocument)
			}

			if CompareNames(entry.Name, d.DirEntries[right].Name) != OrderLess {
				return fmt.Errorf("entry %q sorts after its right sibling %q: %w",
					entry.Name, d.DirEntries[right].Name, ErrorNotCompoundDocument)
			}

			stack = append(stack, right)
		}

		if child := entry.Child; child != NO_STREAM {
			if child >= uint32(len(d.DirEntries)) {
				return fmt.Errorf("child %v outside directory of %v entries: %w",
					child, len(d.DirEntries), ErrorNotCompoundDocument)
			}

			stack = append(stack, child)
		}
	}

	return nil
}
