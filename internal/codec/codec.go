// Package codec implements the audiolift block container format.
//
// A block on the wire is a small little-endian header (identity, sample
// format, whole-block min/max/RMS), two pre-rendered summary pyramids
// (one triple per 256 samples, one per 64k samples) and the raw sample
// bytes compressed with DEFLATE. Blocks are self-describing so a download
// can be decoded without consulting the manifest.
package codec

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Magic identifies an audiolift block container.
const Magic = "ALB1"

// headerSize is magic + block id + format + block MinMaxRMS + three counts.
const headerSize = 4 + 8 + 4 + 12 + 4 + 4 + 4

// tripleSize is the encoded size of one MinMaxRMS triple.
const tripleSize = 12

// SampleFormat describes the raw sample encoding of a block.
type SampleFormat uint32

const (
	Int16 SampleFormat = iota
	Int24
	Float32
)

// String returns a human-readable representation of the sample format.
func (f SampleFormat) String() string {
	switch f {
	case Int16:
		return "int16"
	case Int24:
		return "int24"
	case Float32:
		return "float32"
	default:
		return "unknown"
	}
}

// MinMaxRMS is one summary triple over a span of samples.
type MinMaxRMS struct {
	Min float32
	Max float32
	RMS float32
}

// Block is a decoded sample-data block. It is transient: the download job
// that produced it owns it, and it is discarded after persistence.
type Block struct {
	BlockID    int64
	Format     SampleFormat
	MinMaxRMS  MinMaxRMS
	Summary256 []MinMaxRMS
	Summary64k []MinMaxRMS
	Samples    []byte
}

// BlockCodec encodes and decodes block containers. The zero value is ready
// to use.
type BlockCodec struct{}

// EncodeBlock serializes a block into the container format.
func (BlockCodec) EncodeBlock(b *Block) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(Magic)

	var hdr [headerSize - 4]byte
	binary.LittleEndian.PutUint64(hdr[0:], uint64(b.BlockID))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(b.Format))
	binary.LittleEndian.PutUint32(hdr[12:], math.Float32bits(b.MinMaxRMS.Min))
	binary.LittleEndian.PutUint32(hdr[16:], math.Float32bits(b.MinMaxRMS.Max))
	binary.LittleEndian.PutUint32(hdr[20:], math.Float32bits(b.MinMaxRMS.RMS))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(len(b.Summary256)))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(len(b.Summary64k)))
	binary.LittleEndian.PutUint32(hdr[32:], uint32(len(b.Samples)))
	buf.Write(hdr[:])

	buf.Write(MarshalTriples(b.Summary256))
	buf.Write(MarshalTriples(b.Summary64k))

	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := fw.Write(b.Samples); err != nil {
		return nil, fmt.Errorf("failed to compress samples: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush compressor: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeBlock parses a container and decompresses its samples.
// Any truncation, bad magic or decompression error is a decode failure.
func (BlockCodec) DecodeBlock(data []byte) (*Block, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("block container truncated: %d bytes", len(data))
	}
	if string(data[:4]) != Magic {
		return nil, fmt.Errorf("bad block magic %q", data[:4])
	}

	hdr := data[4:headerSize]
	b := &Block{
		BlockID: int64(binary.LittleEndian.Uint64(hdr[0:])),
		Format:  SampleFormat(binary.LittleEndian.Uint32(hdr[8:])),
		MinMaxRMS: MinMaxRMS{
			Min: math.Float32frombits(binary.LittleEndian.Uint32(hdr[12:])),
			Max: math.Float32frombits(binary.LittleEndian.Uint32(hdr[16:])),
			RMS: math.Float32frombits(binary.LittleEndian.Uint32(hdr[20:])),
		},
	}
	n256 := binary.LittleEndian.Uint32(hdr[24:])
	n64k := binary.LittleEndian.Uint32(hdr[28:])
	rawLen := binary.LittleEndian.Uint32(hdr[32:])

	rest := data[headerSize:]
	s256 := int(n256) * tripleSize
	sumLen := s256 + int(n64k)*tripleSize
	if len(rest) < sumLen {
		return nil, fmt.Errorf("block container truncated: %d summary bytes, need %d", len(rest), sumLen)
	}

	var err error
	b.Summary256, err = UnmarshalTriples(rest[:s256])
	if err != nil {
		return nil, fmt.Errorf("bad 256-sample summary: %w", err)
	}
	b.Summary64k, err = UnmarshalTriples(rest[s256:sumLen])
	if err != nil {
		return nil, fmt.Errorf("bad 64k-sample summary: %w", err)
	}

	fr := flate.NewReader(bytes.NewReader(rest[sumLen:]))
	defer fr.Close()

	samples, err := io.ReadAll(io.LimitReader(fr, int64(rawLen)+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress samples: %w", err)
	}
	if len(samples) != int(rawLen) {
		return nil, fmt.Errorf("sample payload is %d bytes, header declares %d", len(samples), rawLen)
	}
	b.Samples = samples

	return b, nil
}

// MarshalTriples encodes summary triples as little-endian float32 runs.
func MarshalTriples(triples []MinMaxRMS) []byte {
	out := make([]byte, 0, len(triples)*tripleSize)
	var tmp [tripleSize]byte
	for _, t := range triples {
		binary.LittleEndian.PutUint32(tmp[0:], math.Float32bits(t.Min))
		binary.LittleEndian.PutUint32(tmp[4:], math.Float32bits(t.Max))
		binary.LittleEndian.PutUint32(tmp[8:], math.Float32bits(t.RMS))
		out = append(out, tmp[:]...)
	}
	return out
}

// UnmarshalTriples is the inverse of MarshalTriples.
func UnmarshalTriples(data []byte) ([]MinMaxRMS, error) {
	if len(data)%tripleSize != 0 {
		return nil, fmt.Errorf("summary length %d is not a multiple of %d", len(data), tripleSize)
	}
	triples := make([]MinMaxRMS, 0, len(data)/tripleSize)
	for off := 0; off < len(data); off += tripleSize {
		triples = append(triples, MinMaxRMS{
			Min: math.Float32frombits(binary.LittleEndian.Uint32(data[off:])),
			Max: math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:])),
			RMS: math.Float32frombits(binary.LittleEndian.Uint32(data[off+8:])),
		})
	}
	return triples, nil
}
