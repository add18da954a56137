package comdoc

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestDoc(t *testing.T) (*CompoundFile, *Buffer) {
	t.Helper()

	buf := NewBuffer(nil)
	doc, err := Create(buf)
	require.NoError(t, err)

	return doc, buf
}

func writeTestStream(t *testing.T, doc *CompoundFile, path string, payload []byte) {
	t.Helper()

	w, err := doc.CreateStream(path)
	require.NoError(t, err)

	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readTestStream(t *testing.T, doc *CompoundFile, path string) []byte {
	t.Helper()

	s, err := doc.OpenStream(path)
	require.NoError(t, err)

	payload, err := io.ReadAll(s)
	require.NoError(t, err)
	return payload
}

func reopen(t *testing.T, buf *Buffer) *CompoundFile {
	t.Helper()

	doc, err := Open(NewBuffer(buf.Bytes()), WithValidation(ValidationStrict))
	require.NoError(t, err)
	return doc
}

func TestCreateEmptyDocument(t *testing.T) {
	doc, buf := createTestDoc(t)
	require.NoError(t, doc.Close())

	// One FAT slab plus one directory sector follow the header.
	require.Equal(t, HEADER_LEN+2*doc.Sectors.SectorLen(), buf.Len())

	chain, err := doc.Allocator.FollowChain(doc.Header.FirstDirSector)
	require.NoError(t, err)
	assert.Len(t, chain, 1)

	require.Len(t, doc.Directory.DirEntries, 4)

	root := doc.Directory.RootDirEntry()
	assert.Equal(t, Root, root.ObjType)
	assert.Equal(t, ROOT_DIR_NAME, root.Name)
	assert.Equal(t, Black, root.Color)

	for _, entry := range doc.Directory.DirEntries[1:] {
		assert.Equal(t, Unallocated, entry.ObjType)
	}

	// The slab allocates itself first, so it lands on sector 0 and the
	// directory on the next one.
	assert.Equal(t, uint32(0), doc.Header.InitialDifatEntries[0])
	assert.Equal(t, FAT_SECTOR, doc.Allocator.Fat[0])
	assert.Equal(t, uint32(1), doc.Header.FirstDirSector)

	reopened := reopen(t, buf)
	assert.Equal(t, ROOT_DIR_NAME, reopened.RootEntry().Name)
}

func TestProducedImageConstants(t *testing.T) {
	doc, buf := createTestDoc(t)
	writeTestStream(t, doc, "/tiny", []byte{1, 2, 3})
	require.NoError(t, doc.Close())

	image := buf.Bytes()
	assert.Equal(t, MAGIC_NUMBER, image[:8])
	assert.Equal(t, []byte{0xfe, 0xff}, image[28:30])
	assert.Equal(t, []byte{0x09, 0x00}, image[30:32])
	assert.Equal(t, []byte{0x06, 0x00}, image[32:34])
}

func TestSmallStreamRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 65)

	doc, buf := createTestDoc(t)
	writeTestStream(t, doc, "/EncryptedPackage", payload)
	require.NoError(t, doc.Close())

	reopened := reopen(t, buf)

	assert.True(t, reopened.Contains("/EncryptedPackage", Stream))
	assert.False(t, reopened.Contains("/EncryptedPackage", Storage))
	assert.Equal(t, payload, readTestStream(t, reopened, "/EncryptedPackage"))

	// 65 bytes is far below the cutoff, so the chain lives in the miniFAT.
	id, err := reopened.resolvePath("/EncryptedPackage")
	require.NoError(t, err)
	entry := reopened.Directory.DirEntries[id]

	chain, err := reopened.MiniAlloc.FollowChain(entry.StartingSector)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}

func TestBigStreamRoundTrip(t *testing.T) {
	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = byte(i%255 + 1)
	}

	doc, buf := createTestDoc(t)
	writeTestStream(t, doc, "/Big", payload)
	require.NoError(t, doc.Close())

	reopened := reopen(t, buf)
	assert.Equal(t, payload, readTestStream(t, reopened, "/Big"))

	id, err := reopened.resolvePath("/Big")
	require.NoError(t, err)
	entry := reopened.Directory.DirEntries[id]

	chain, err := reopened.Allocator.FollowChain(entry.StartingSector)
	require.NoError(t, err)
	assert.Len(t, chain, 16)
}

func TestStreamAtCutoffUsesBigSectors(t *testing.T) {
	doc, buf := createTestDoc(t)
	writeTestStream(t, doc, "/AtCutoff", make([]byte, int(MINI_STREAM_CUTOFF)))
	writeTestStream(t, doc, "/Below", make([]byte, int(MINI_STREAM_CUTOFF)-1))
	require.NoError(t, doc.Close())

	reopened := reopen(t, buf)

	atId, err := reopened.resolvePath("/AtCutoff")
	require.NoError(t, err)
	_, err = reopened.Allocator.FollowChain(reopened.Directory.DirEntries[atId].StartingSector)
	require.NoError(t, err)

	belowId, err := reopened.resolvePath("/Below")
	require.NoError(t, err)
	belowChain, err := reopened.MiniAlloc.FollowChain(reopened.Directory.DirEntries[belowId].StartingSector)
	require.NoError(t, err)
	assert.Len(t, belowChain, (int(MINI_STREAM_CUTOFF)-1+MINI_SECTOR_LEN-1)/MINI_SECTOR_LEN)
}

func TestOpenRejectsZeros(t *testing.T) {
	_, err := Open(NewBuffer(make([]byte, 1024)))
	assert.ErrorIs(t, err, ErrorNotCompoundDocument)
}

func TestOpenRejectsTruncated(t *testing.T) {
	_, err := Open(NewBuffer([]byte{0xd0, 0xcf, 0x11}))
	assert.ErrorIs(t, err, ErrorNotCompoundDocument)
}

func TestListHierarchy(t *testing.T) {
	doc, buf := createTestDoc(t)

	require.NoError(t, doc.CreateStorage("/S1"))
	require.NoError(t, doc.CreateStorage("/S1/inner"))
	require.NoError(t, doc.CreateStorage("/S2"))
	writeTestStream(t, doc, "/top", []byte("top"))
	writeTestStream(t, doc, "/S1/data", []byte("data"))
	require.NoError(t, doc.Close())

	reopened := reopen(t, buf)

	paths := make(map[string]ObjectType)
	for _, entry := range reopened.List() {
		paths[entry.Path] = entry.ObjType
	}

	assert.Equal(t, map[string]ObjectType{
		"/S1":       Storage,
		"/S1/inner": Storage,
		"/S2":       Storage,
		"/top":      Stream,
		"/S1/data":  Stream,
	}, paths)

	assert.Equal(t, []byte("data"), readTestStream(t, reopened, "/S1/data"))
}

func TestRootPathResolution(t *testing.T) {
	doc, _ := createTestDoc(t)

	assert.True(t, doc.Contains("/", Root))
	assert.True(t, doc.Contains("/Root Entry", Root))
	assert.False(t, doc.Contains("/", Stream))
	assert.False(t, doc.Contains("/missing", Stream))
}

func TestCreateStreamRejectsBadPaths(t *testing.T) {
	doc, _ := createTestDoc(t)

	_, err := doc.CreateStream("/")
	assert.ErrorIs(t, err, ErrorInvalidName)

	_, err = doc.CreateStream("/nosuch/stream")
	assert.ErrorIs(t, err, ErrorNotFound)

	_, err = doc.CreateStream("/ba:d")
	assert.ErrorIs(t, err, ErrorInvalidName)
}

func TestCreateStreamUnderStreamFails(t *testing.T) {
	doc, _ := createTestDoc(t)
	writeTestStream(t, doc, "/leaf", []byte("x"))

	_, err := doc.CreateStream("/leaf/below")
	assert.Error(t, err)
}

func TestReadOnlyDocumentRejectsWrites(t *testing.T) {
	doc, buf := createTestDoc(t)
	writeTestStream(t, doc, "/s", []byte("x"))
	require.NoError(t, doc.Close())

	reopened := reopen(t, buf)
	_, err := reopened.CreateStream("/t")
	assert.Error(t, err)
}

func TestOpenStreamOnStorageFails(t *testing.T) {
	doc, _ := createTestDoc(t)
	require.NoError(t, doc.CreateStorage("/S"))

	_, err := doc.OpenStream("/S")
	assert.ErrorIs(t, err, ErrorNotFound)
}

func TestStreamSeek(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	doc, _ := createTestDoc(t)
	writeTestStream(t, doc, "/s", payload)

	s, err := doc.OpenStream("/s")
	require.NoError(t, err)

	pos, err := s.Seek(100, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(100), pos)

	got := make([]byte, 8)
	_, err = io.ReadFull(s, got)
	require.NoError(t, err)
	assert.Equal(t, payload[100:108], got)

	pos, err = s.Seek(-4, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(296), pos)

	_, err = s.Seek(1, io.SeekEnd)
	assert.ErrorIs(t, err, ErrorOutOfRange)
}

func TestChainWellFormedness(t *testing.T) {
	doc, buf := createTestDoc(t)

	writeTestStream(t, doc, "/small", make([]byte, 100))
	writeTestStream(t, doc, "/medium", make([]byte, 3000))
	writeTestStream(t, doc, "/large", make([]byte, 5000))
	writeTestStream(t, doc, "/huge", make([]byte, 40000))
	require.NoError(t, doc.Close())

	reopened := reopen(t, buf)

	seenBig := make(map[uint32]bool)
	seenMini := make(map[uint32]bool)

	for _, tc := range []struct {
		path string
		size int
	}{
		{"/small", 100}, {"/medium", 3000}, {"/large", 5000}, {"/huge", 40000},
	} {
		id, err := reopened.resolvePath(tc.path)
		require.NoError(t, err)
		entry := reopened.Directory.DirEntries[id]
		require.Equal(t, uint64(tc.size), entry.StreamSize)

		var chain []uint32
		var unit int
		if entry.StreamSize < MINI_STREAM_CUTOFF {
			chain, err = reopened.MiniAlloc.FollowChain(entry.StartingSector)
			unit = MINI_SECTOR_LEN
		} else {
			chain, err = reopened.Allocator.FollowChain(entry.StartingSector)
			unit = reopened.Sectors.SectorLen()
		}
		require.NoError(t, err)
		assert.Len(t, chain, (tc.size+unit-1)/unit, tc.path)

		for _, sectorId := range chain {
			if unit == MINI_SECTOR_LEN {
				assert.False(t, seenMini[sectorId], "mini sector %v reused", sectorId)
				seenMini[sectorId] = true
			} else {
				assert.False(t, seenBig[sectorId], "sector %v reused", sectorId)
				seenBig[sectorId] = true
			}
		}
	}
}

func TestFatMarksItsOwnSectors(t *testing.T) {
	doc, buf := createTestDoc(t)
	writeTestStream(t, doc, "/filler", make([]byte, 100000))
	require.NoError(t, doc.Close())

	reopened := reopen(t, buf)

	require.Greater(t, len(reopened.Allocator.Difat), 1)
	for _, satSector := range reopened.Allocator.Difat {
		assert.Equal(t, FAT_SECTOR, reopened.Allocator.Fat[satSector])
	}
}

func TestMiniContainerCoversAllocations(t *testing.T) {
	doc, buf := createTestDoc(t)

	for _, name := range []string{"/a", "/b", "/c", "/d"} {
		writeTestStream(t, doc, name, make([]byte, 1000))
	}
	require.NoError(t, doc.Close())

	reopened := reopen(t, buf)

	highest := uint32(0)
	for i, e := range reopened.MiniAlloc.Minifat {
		if e != FREE_SECTOR {
			highest = uint32(i)
		}
	}

	root := reopened.Directory.RootDirEntry()
	assert.GreaterOrEqual(t, root.StreamSize, uint64(highest+1)*uint64(MINI_SECTOR_LEN))
}

func TestOverwriteStream(t *testing.T) {
	doc, buf := createTestDoc(t)
	writeTestStream(t, doc, "/s", []byte("first"))
	writeTestStream(t, doc, "/s", []byte("second payload"))
	require.NoError(t, doc.Close())

	reopened := reopen(t, buf)
	assert.Equal(t, []byte("second payload"), readTestStream(t, reopened, "/s"))

	count := 0
	for _, entry := range reopened.List() {
		if entry.Path == "/s" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestEmptyStream(t *testing.T) {
	doc, buf := createTestDoc(t)
	writeTestStream(t, doc, "/empty", nil)
	require.NoError(t, doc.Close())

	reopened := reopen(t, buf)
	assert.True(t, reopened.Contains("/empty", Stream))
	assert.Empty(t, readTestStream(t, reopened, "/empty"))
}

func TestDirectoryGrowth(t *testing.T) {
	doc, buf := createTestDoc(t)

	names := []string{"/e1", "/e2", "/e3", "/e4", "/e5", "/e6", "/e7", "/e8", "/e9"}
	for _, name := range names {
		writeTestStream(t, doc, name, []byte(name))
	}
	require.NoError(t, doc.Close())

	chain, err := doc.Allocator.FollowChain(doc.Header.FirstDirSector)
	require.NoError(t, err)
	require.Greater(t, len(chain), 1)

	reopened := reopen(t, buf)
	for _, name := range names {
		assert.Equal(t, []byte(name), readTestStream(t, reopened, name))
	}
}

func TestReopenForWrite(t *testing.T) {
	doc, buf := createTestDoc(t)
	writeTestStream(t, doc, "/first", []byte("first payload"))
	require.NoError(t, doc.Close())

	rw := NewBuffer(append([]byte{}, buf.Bytes()...))
	doc2, err := OpenWritable(rw)
	require.NoError(t, err)

	writeTestStream(t, doc2, "/second", bytes.Repeat([]byte{0x5a}, 6000))
	require.NoError(t, doc2.Close())

	reopened := reopen(t, rw)
	assert.Equal(t, []byte("first payload"), readTestStream(t, reopened, "/first"))
	assert.Equal(t, bytes.Repeat([]byte{0x5a}, 6000), readTestStream(t, reopened, "/second"))
}

func TestOutOfRangeRead(t *testing.T) {
	im := OpenImage(NewBuffer([]byte{1, 2, 3}))

	err := im.ReadAt(make([]byte, 4), 0)
	assert.ErrorIs(t, err, ErrorOutOfRange)

	err = im.ReadAt(make([]byte, 2), 2)
	assert.ErrorIs(t, err, ErrorOutOfRange)

	require.NoError(t, im.ReadAt(make([]byte, 3), 0))
}
