package comdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderDefaults(t *testing.T) {
	h := NewHeader()

	assert.Equal(t, V3, h.Version)
	assert.Equal(t, MINOR_VERSION, h.MinorVersion)
	assert.Equal(t, uint16(9), h.SectorShift)
	assert.Equal(t, MINI_SECTOR_SHIFT, h.MiniSectorShift)
	assert.Equal(t, uint32(MINI_STREAM_CUTOFF), h.MiniStreamCutoff)
	assert.Equal(t, END_OF_CHAIN, h.FirstDirSector)
	assert.Equal(t, END_OF_CHAIN, h.FirstMinifatSector)
	assert.Equal(t, END_OF_CHAIN, h.FirstDifatSector)

	for _, e := range h.InitialDifatEntries {
		assert.Equal(t, FREE_SECTOR, e)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := NewHeader()
	h.NumFatSectors = 2
	h.FirstDirSector = 1
	h.FirstMinifatSector = 5
	h.NumMinifatSectors = 1
	h.InitialDifatEntries[0] = 0
	h.InitialDifatEntries[1] = 7

	buf := h.Encode()
	require.Len(t, buf, HEADER_LEN)

	assert.Equal(t, MAGIC_NUMBER, buf[:8])
	assert.Equal(t, byte(0xfe), buf[28])
	assert.Equal(t, byte(0xff), buf[29])

	decoded, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HEADER_LEN))
	assert.ErrorIs(t, err, ErrorNotCompoundDocument)

	_, err = DecodeHeader([]byte{0xd0, 0xcf})
	assert.ErrorIs(t, err, ErrorNotCompoundDocument)
}

func TestDecodeHeaderRejectsBadByteOrder(t *testing.T) {
	buf := NewHeader().Encode()
	buf[28], buf[29] = 0xff, 0xfe

	_, err := DecodeHeader(buf)
	assert.ErrorIs(t, err, ErrorNotCompoundDocument)
}
