package comdoc

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func payloadFor(index, size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte((i + index*31) % 251)
	}
	return payload
}

// Writing any set of distinct streams and reading them back after a
// reopen yields the same bytes at the same paths.
func TestRoundTripProperty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("write then read preserves payloads", prop.ForAll(
		func(sizes []int) bool {
			buf := NewBuffer(nil)
			doc, err := Create(buf)
			if err != nil {
				return false
			}

			for i, size := range sizes {
				w, err := doc.CreateStream(fmt.Sprintf("/stream%02d", i))
				if err != nil {
					return false
				}
				if _, err := w.Write(payloadFor(i, size)); err != nil {
					return false
				}
				if err := w.Close(); err != nil {
					return false
				}
			}

			if err := doc.Close(); err != nil {
				return false
			}

			reopened, err := Open(NewBuffer(buf.Bytes()), WithValidation(ValidationStrict))
			if err != nil {
				return false
			}

			for i, size := range sizes {
				s, err := reopened.OpenStream(fmt.Sprintf("/stream%02d", i))
				if err != nil {
					return false
				}

				payload, err := io.ReadAll(s)
				if err != nil {
					return false
				}

				if !bytes.Equal(payload, payloadFor(i, size)) {
					return false
				}
			}

			return true
		},
		gen.SliceOf(gen.IntRange(0, 10000)),
	))

	properties.TestingRun(t)
}

// The placement threshold holds for every produced stream: short chains in
// the miniFAT, standard chains in the FAT.
func TestPlacementProperty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("streams land on the right table", prop.ForAll(
		func(size int) bool {
			buf := NewBuffer(nil)
			doc, err := Create(buf)
			if err != nil {
				return false
			}

			w, err := doc.CreateStream("/s")
			if err != nil {
				return false
			}
			if _, err := w.Write(payloadFor(0, size)); err != nil {
				return false
			}
			if err := w.Close(); err != nil {
				return false
			}
			if err := doc.Close(); err != nil {
				return false
			}

			reopened, err := Open(NewBuffer(buf.Bytes()), WithValidation(ValidationStrict))
			if err != nil {
				return false
			}

			entry := reopened.Directory.DirEntries[1]
			if entry.StreamSize != uint64(size) {
				return false
			}

			if size == 0 {
				return entry.StartingSector == END_OF_CHAIN
			}

			var chain []uint32
			var unit int
			if uint64(size) < MINI_STREAM_CUTOFF {
				chain, err = reopened.MiniAlloc.FollowChain(entry.StartingSector)
				unit = MINI_SECTOR_LEN
			} else {
				chain, err = reopened.Allocator.FollowChain(entry.StartingSector)
				unit = reopened.Sectors.SectorLen()
			}
			if err != nil {
				return false
			}

			return len(chain) == (size+unit-1)/unit
		},
		gen.IntRange(0, 20000),
	))

	properties.TestingRun(t)
}
