// Package wire implements the length-prefixed binary protocol the
// coordinator and its workers exchange over anonymous pipes.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrShortFrame indicates the peer closed its end of the pipe before a
// complete header was received. This is not necessarily an error condition:
// a worker that was cancelled mid-write produces exactly this shape.
var ErrShortFrame = errors.New("wire: short frame")

// align rounds size up to the next multiple of 16, matching the original
// wire format's 16-byte aligned frames.
func align(size int) int {
	const a = 16
	if r := size % a; r != 0 {
		size += a - r
	}
	return size
}

// problemHeaderSize is the encoded size of a Problem header: size, type,
// variant, nvariants, each a uint32.
const problemHeaderSize = 16

// Problem is a single variant of a logical problem, destined for one worker.
type Problem struct {
	// Type selects the solver that should handle this Problem.
	Type uint32
	// Variant is this Problem's ordinal within its batch.
	Variant uint32
	// NVariants is the number of variants dispatched for this batch.
	NVariants uint32
	// Data is the opaque payload interpreted by the solver named by Type.
	Data []byte
}

// Size returns the 16-byte aligned wire size of p, header included.
func (p Problem) Size() int {
	return align(problemHeaderSize + len(p.Data))
}

// WriteProblem writes p to w as a single framed record.
func WriteProblem(w io.Writer, p Problem) error {
	size := p.Size()
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:8], p.Type)
	binary.LittleEndian.PutUint32(buf[8:12], p.Variant)
	binary.LittleEndian.PutUint32(buf[12:16], p.NVariants)
	copy(buf[problemHeaderSize:], p.Data)

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "wire: write problem")
	}
	return nil
}

// ReadProblem reads a single framed Problem from r. ErrShortFrame is
// returned if EOF occurs before the header is fully read.
func ReadProblem(r io.Reader) (Problem, error) {
	header := make([]byte, problemHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Problem{}, ErrShortFrame
		}
		return Problem{}, errors.Wrap(err, "wire: read problem header")
	}

	size := binary.LittleEndian.Uint32(header[0:4])
	p := Problem{
		Type:      binary.LittleEndian.Uint32(header[4:8]),
		Variant:   binary.LittleEndian.Uint32(header[8:12]),
		NVariants: binary.LittleEndian.Uint32(header[12:16]),
	}

	dataSize := int(size) - problemHeaderSize
	if dataSize <= 0 {
		return p, nil
	}

	data := make([]byte, dataSize)
	if _, err := io.ReadFull(r, data); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Problem{}, errors.Wrap(err, "wire: read problem payload")
	}
	p.Data = data
	return p, nil
}

// resultHeaderSize is the encoded size of a Result header: size, failed,
// each a uint32.
const resultHeaderSize = 8

// Result is a single worker's answer to a Problem.
type Result struct {
	// Failed is true when the solver gave up without producing a usable
	// answer.
	Failed bool
	// Data is the opaque payload produced by the solver. A Result decoded by
	// ReadResult carries the frame's whole padded payload, so Data may end in
	// zero bytes and is non-empty even for a Failed Result written without
	// one.
	Data []byte
}

// Size returns the 16-byte aligned wire size of r, header included.
func (r Result) Size() int {
	return align(resultHeaderSize + len(r.Data))
}

// WriteResult writes r to w as a single framed record.
func WriteResult(w io.Writer, r Result) error {
	size := r.Size()
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	if r.Failed {
		binary.LittleEndian.PutUint32(buf[4:8], 1)
	}
	copy(buf[resultHeaderSize:], r.Data)

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "wire: write result")
	}
	return nil
}

// ReadResult reads a single framed Result from r. ErrShortFrame is returned
// if EOF occurs before the header is fully read; callers should treat this
// as "the peer produced nothing" rather than a transport failure.
func ReadResult(r io.Reader) (Result, error) {
	header := make([]byte, resultHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Result{}, ErrShortFrame
		}
		return Result{}, errors.Wrap(err, "wire: read result header")
	}

	size := binary.LittleEndian.Uint32(header[0:4])
	failed := binary.LittleEndian.Uint32(header[4:8]) != 0

	dataSize := int(size) - resultHeaderSize
	if dataSize <= 0 {
		return Result{Failed: failed}, nil
	}

	data := make([]byte, dataSize)
	if _, err := io.ReadFull(r, data); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Result{}, errors.Wrap(err, "wire: read result payload")
	}
	return Result{Failed: failed, Data: data}, nil
}
