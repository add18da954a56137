package comdoc

import (
	"fmt"
	"io"
)

// StreamReader reads one user stream. The sector chain is resolved once at open;
// reads then address sectors directly, through the mini-stream container
// for short streams and the FAT for standard ones.
type StreamReader struct {
	doc *CompoundFile

	entryId uint32
	size    uint64
	mini    bool
	chain   []uint32
	pos     int64
}

func newStream(doc *CompoundFile, entryId uint32) (*StreamReader, error) {
	entry := doc.Directory.DirEntries[entryId]

	s := &StreamReader{
		doc:     doc,
		entryId: entryId,
		size:    entry.StreamSize,
		mini:    entry.StreamSize < MINI_STREAM_CUTOFF,
	}

	var err error
	if s.size == 0 {
		return s, nil
	}

	if s.mini {
		s.chain, err = doc.MiniAlloc.FollowChain(entry.StartingSector)
	} else {
		s.chain, err = doc.Allocator.FollowChain(entry.StartingSector)
	}
	if err != nil {
		return nil, err
	}

	if uint64(len(s.chain))*uint64(s.unit()) < s.size {
		return nil, fmt.Errorf("stream of %v bytes has a chain of only %v sectors: %w",
			s.size, len(s.chain), ErrorCorruptChain)
	}

	return s, nil
}

func (s *StreamReader) unit() int {
	if s.mini {
		return s.doc.Sectors.MiniSectorLen()
	}
	return s.doc.Sectors.SectorLen()
}

func (s *StreamReader) Size() uint64 {
	return s.size
}

func (s *StreamReader) Read(p []byte) (int, error) {
	if s.pos >= int64(s.size) {
		return 0, io.EOF
	}

	unit := int64(s.unit())
	total := 0

	for total < len(p) && s.pos < int64(s.size) {
		idx := s.pos / unit
		offset := s.pos % unit

		take := unit - offset
		if remaining := int64(s.size) - s.pos; take > remaining {
			take = remaining
		}
		if space := int64(len(p) - total); take > space {
			take = space
		}

		if s.mini {
			sector, err := s.doc.MiniAlloc.ReadMiniSector(s.chain[idx])
			if err != nil {
				return total, err
			}
			copy(p[total:total+int(take)], sector[offset:offset+take])
		} else {
			err := s.doc.Sectors.ReadSectorAt(s.chain[idx], int(offset), p[total:total+int(take)])
			if err != nil {
				return total, err
			}
		}

		total += int(take)
		s.pos += take
	}

	return total, nil
}

func (s *StreamReader) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = int64(s.size) + offset
	default:
		return 0, fmt.Errorf("invalid whence %v", whence)
	}

	if pos < 0 || pos > int64(s.size) {
		return 0, fmt.Errorf("seek to %v in stream of %v bytes: %w", pos, s.size, ErrorOutOfRange)
	}

	s.pos = pos
	return pos, nil
}
