package comdoc

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"
)

// StreamWriter buffers a stream payload until Close. Only then is the
// placement decided: non-empty payloads under the cutoff go to mini
// sectors, the rest to big sectors, and an empty payload gets no chain.
// Close allocates the chain, writes the payload, and persists the entry
// and header.
type StreamWriter struct {
	doc *CompoundFile

	entryId uint32
	buf     bytes.Buffer
	closed  bool
}

func newStreamWriter(doc *CompoundFile, entryId uint32) *StreamWriter {
	return &StreamWriter{doc: doc, entryId: entryId}
}

func (w *StreamWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed stream")
	}
	return w.buf.Write(p)
}

func (w *StreamWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	payload := w.buf.Bytes()
	size := uint64(len(payload))

	entry := w.doc.Directory.DirEntries[w.entryId]
	start := END_OF_CHAIN

	if size > 0 && size < MINI_STREAM_CUTOFF {
		miniLen := w.doc.Sectors.MiniSectorLen()
		count := (len(payload) + miniLen - 1) / miniLen

		chain, err := w.doc.MiniAlloc.AllocateMiniChain(count)
		if err != nil {
			return err
		}

		for i, miniSectorId := range chain {
			from := i * miniLen
			to := from + miniLen
			if to > len(payload) {
				to = len(payload)
			}

			if err := w.doc.MiniAlloc.WriteMiniSector(miniSectorId, payload[from:to]); err != nil {
				return err
			}
		}

		start = chain[0]
	} else if size > 0 {
		sectorLen := w.doc.Sectors.SectorLen()
		count := (len(payload) + sectorLen - 1) / sectorLen

		chain, err := w.doc.Allocator.AllocateChain(count)
		if err != nil {
			return err
		}

		for i, sectorId := range chain {
			from := i * sectorLen
			to := from + sectorLen
			if to > len(payload) {
				to = len(payload)
			}

			if err := w.doc.Sectors.WriteSector(sectorId, payload[from:to]); err != nil {
				return err
			}
		}

		start = chain[0]
	}

	entry.StartingSector = start
	entry.StreamSize = size

	if err := w.doc.Directory.WriteEntry(w.entryId); err != nil {
		return err
	}

	w.doc.log.Debug("flushed stream",
		zap.String("name", entry.Name),
		zap.Uint64("size", size),
		zap.Bool("mini", size < MINI_STREAM_CUTOFF))

	return w.doc.writeHeader()
}
