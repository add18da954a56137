package comdoc

import "fmt"

// Each storage's children form a red-black tree over directory entries:
// LeftSibling and RightSibling are the child links, Child on the storage
// entry is the tree root, and parents live only in the in-memory map.

func (d *Directory) treeLeft(id uint32) uint32 {
	return d.DirEntries[id].LeftSibling
}

func (d *Directory) setTreeLeft(id, v uint32) {
	d.DirEntries[id].LeftSibling = v
	d.markDirty(id)
}

func (d *Directory) treeRight(id uint32) uint32 {
	return d.DirEntries[id].RightSibling
}

func (d *Directory) setTreeRight(id, v uint32) {
	d.DirEntries[id].RightSibling = v
	d.markDirty(id)
}

func (d *Directory) treeColor(id uint32) Color {
	return d.DirEntries[id].Color
}

func (d *Directory) setTreeColor(id uint32, c Color) {
	d.DirEntries[id].Color = c
	d.markDirty(id)
}

func (d *Directory) treeParent(id uint32) uint32 {
	return d.parent[id]
}

func (d *Directory) setTreeParent(id, v uint32) {
	d.parent[id] = v
}

// treeRoot is the root of the tree the entry belongs to: the child link of
// its enclosing storage.
func (d *Directory) treeRoot(id uint32) uint32 {
	return d.DirEntries[d.parentStorage[id]].Child
}

func (d *Directory) setTreeRoot(id, v uint32) {
	storageId := d.parentStorage[id]
	d.DirEntries[storageId].Child = v
	d.markDirty(storageId)
}

func (d *Directory) treeKey(id uint32) string {
	return d.DirEntries[id].Name
}

// TreeInsert links an entry into the given storage's tree: plain BST
// insertion by name order, then the standard red-black fix-up.
func (d *Directory) TreeInsert(newId, storageId uint32) {
	d.parentStorage[newId] = storageId

	d.setTreeLeft(newId, NO_STREAM)
	d.setTreeRight(newId, NO_STREAM)

	if d.treeRoot(newId) == NO_STREAM {
		if newId != ROOT_STREAM_ID {
			d.setTreeRoot(newId, newId)
		}

		d.setTreeColor(newId, Black)
		d.setTreeParent(newId, NO_STREAM)
		return
	}

	x := d.treeRoot(newId)
	y := NO_STREAM

	for x != NO_STREAM {
		y = x
		if CompareNames(d.treeKey(newId), d.treeKey(x)) == OrderGreater {
			x = d.treeRight(x)
		} else {
			x = d.treeLeft(x)
		}
	}

	d.setTreeParent(newId, y)

	if CompareNames(d.treeKey(newId), d.treeKey(y)) == OrderGreater {
		d.setTreeRight(y, newId)
	} else {
		d.setTreeLeft(y, newId)
	}

	d.treeInsertFixup(newId)
}

func (d *Directory) treeRotateLeft(x uint32) {
	y := d.treeRight(x)

	// turn y's left subtree into x's right subtree
	d.setTreeRight(x, d.treeLeft(y))
	if d.treeLeft(y) != NO_STREAM {
		d.setTreeParent(d.treeLeft(y), x)
	}

	// link x's parent to y
	d.setTreeParent(y, d.treeParent(x))
	if d.treeParent(x) == NO_STREAM {
		d.setTreeRoot(x, y)
	} else if x == d.treeLeft(d.treeParent(x)) {
		d.setTreeLeft(d.treeParent(x), y)
	} else {
		d.setTreeRight(d.treeParent(x), y)
	}

	// put x on y's left
	d.setTreeLeft(y, x)
	d.setTreeParent(x, y)
}

func (d *Directory) treeRotateRight(y uint32) {
	x := d.treeLeft(y)

	// turn x's right subtree into y's left subtree
	d.setTreeLeft(y, d.treeRight(x))
	if d.treeRight(x) != NO_STREAM {
		d.setTreeParent(d.treeRight(x), y)
	}

	// link y's parent to x
	d.setTreeParent(x, d.treeParent(y))
	if d.treeParent(y) == NO_STREAM {
		d.setTreeRoot(y, x)
	} else if y == d.treeLeft(d.treeParent(y)) {
		d.setTreeLeft(d.treeParent(y), x)
	} else {
		d.setTreeRight(d.treeParent(y), x)
	}

	// put y on x's right
	d.setTreeRight(x, y)
	d.setTreeParent(y, x)
}

func (d *Directory) treeInsertFixup(x uint32) {
	d.setTreeColor(x, Red)

	for x != d.treeRoot(x) && d.treeColor(d.treeParent(x)) == Red {
		if d.treeParent(x) == d.treeLeft(d.treeParent(d.treeParent(x))) {
			uncle := d.treeRight(d.treeParent(d.treeParent(x)))

			if uncle != NO_STREAM && d.treeColor(uncle) == Red {
				d.setTreeColor(d.treeParent(x), Black)
				d.setTreeColor(uncle, Black)
				d.setTreeColor(d.treeParent(d.treeParent(x)), Red)
				x = d.treeParent(d.treeParent(x))
			} else {
				if x == d.treeRight(d.treeParent(x)) {
					x = d.treeParent(x)
					d.treeRotateLeft(x)
				}

				d.setTreeColor(d.treeParent(x), Black)
				d.setTreeColor(d.treeParent(d.treeParent(x)), Red)
				d.treeRotateRight(d.treeParent(d.treeParent(x)))
			}
		} else { // mirrored
			uncle := d.treeLeft(d.treeParent(d.treeParent(x)))

			if uncle != NO_STREAM && d.treeColor(uncle) == Red {
				d.setTreeColor(d.treeParent(x), Black)
				d.setTreeColor(uncle, Black)
				d.setTreeColor(d.treeParent(d.treeParent(x)), Red)
				x = d.treeParent(d.treeParent(x))
			} else {
				if x == d.treeLeft(d.treeParent(x)) {
					x = d.treeParent(x)
					d.treeRotateRight(x)
				}

				d.setTreeColor(d.treeParent(x), Black)
				d.setTreeColor(d.treeParent(d.treeParent(x)), Red)
				d.treeRotateLeft(d.treeParent(d.treeParent(x)))
			}
		}
	}

	d.setTreeColor(d.treeRoot(x), Black)
}

// Lookup finds the named child of a storage, by the tree's own key order.
func (d *Directory) Lookup(storageId uint32, name string) (uint32, error) {
	id := d.DirEntries[storageId].Child

	for id != NO_STREAM {
		switch CompareNames(name, d.treeKey(id)) {
		case OrderEqual:
			return id, nil
		case OrderLess:
			id = d.treeLeft(id)
		case OrderGreater:
			id = d.treeRight(id)
		}
	}

	return 0, fmt.Errorf("no entry named %q: %w", name, ErrorNotFound)
}

// ResolveNameChain walks a name chain from the root storage, descending
// through storages, and returns the final entry id.
func (d *Directory) ResolveNameChain(names []string) (uint32, error) {
	id := ROOT_STREAM_ID

	for i, name := range names {
		if i > 0 && d.DirEntries[id].ObjType != Storage {
			return 0, fmt.Errorf("%q is not a storage: %w", d.treeKey(id), ErrorNotFound)
		}

		next, err := d.Lookup(id, name)
		if err != nil {
			return 0, err
		}
		id = next
	}

	return id, nil
}
