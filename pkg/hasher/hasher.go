// Package hasher computes the remote's published content-hash scheme: a
// two-level SHA-256 over 4 MiB blocks. The digest is the canonical identity
// of a file's bytes and is verified on every upload and download.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// BlockSize is the block size the remote hashes independently before
// combining the per-block digests into the final content hash.
const BlockSize = 4 * 1024 * 1024

// Hasher incrementally computes the two-level content hash. Write data to
// it in any chunking; block boundaries are tracked internally regardless of
// how callers slice their writes.
type Hasher struct {
	overall     hash.Hash // sha256 of the concatenated per-block digests
	block       hash.Hash // sha256 of the current (incomplete) block
	blockFilled int       // bytes written into the current block so far
}

// New returns a ready-to-write Hasher.
func New() *Hasher {
	return &Hasher{
		overall: sha256.New(),
		block:   sha256.New(),
	}
}

// Write implements io.Writer, splitting p at BlockSize boundaries and
// folding each completed block's digest into the overall hash.
func (h *Hasher) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		space := BlockSize - h.blockFilled
		n := len(p)
		if n > space {
			n = space
		}
		h.block.Write(p[:n])
		h.blockFilled += n
		p = p[n:]

		if h.blockFilled == BlockSize {
			h.overall.Write(h.block.Sum(nil))
			h.block.Reset()
			h.blockFilled = 0
		}
	}
	return total, nil
}

// Sum finalizes and returns the lowercase hex content hash of everything
// written so far. It folds any partial trailing block into the overall
// digest; call it once, at end-of-stream, before any further Write.
func (h *Hasher) Sum() string {
	if h.blockFilled > 0 {
		h.overall.Write(h.block.Sum(nil))
		h.block.Reset()
		h.blockFilled = 0
	}
	return hex.EncodeToString(h.overall.Sum(nil))
}

// Reset clears the Hasher back to its zero state for reuse.
func (h *Hasher) Reset() {
	h.overall.Reset()
	h.block.Reset()
	h.blockFilled = 0
}

// Sum computes the content hash of an entire byte slice in one call.
func Sum(data []byte) string {
	h := New()
	_, _ = h.Write(data)
	return h.Sum()
}

// SumReader computes the content hash of everything read from r.
func SumReader(r io.Reader) (string, error) {
	h := New()
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			return h.Sum(), nil
		}
		if err != nil {
			return "", err
		}
	}
}

// StreamHasher wraps an io.Writer sink, updating an embedded Hasher with
// every slice written through it. Used by TransferEngine.download to hash
// the response body as it streams to the local file.
type StreamHasher struct {
	sink   io.Writer
	hasher *Hasher
}

// NewStreamHasher wraps sink so that every Write is mirrored into the
// returned StreamHasher's Hasher.
func NewStreamHasher(sink io.Writer) *StreamHasher {
	return &StreamHasher{sink: sink, hasher: New()}
}

// Write writes p to the underlying sink and folds the n bytes the sink
// accepted into the running hash, even when the sink also returns an error
// (under io.Writer semantics a short write always comes with a non-nil
// error). Bytes the sink did not accept are not hashed.
func (s *StreamHasher) Write(p []byte) (int, error) {
	n, err := s.sink.Write(p)
	if n > 0 {
		_, _ = s.hasher.Write(p[:n])
	}
	return n, err
}

// Sum returns the content hash of everything written through the stream.
func (s *StreamHasher) Sum() string {
	return s.hasher.Sum()
}
