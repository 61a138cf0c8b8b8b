package wire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tjper/raceworker/internal/coordinator/wire"
)

func TestProblemRoundTrip(t *testing.T) {
	tests := map[string]wire.Problem{
		"no payload":    {Type: 1, Variant: 0, NVariants: 4},
		"small payload": {Type: 2, Variant: 1, NVariants: 4, Data: []byte("abc")},
		"16-byte payload": {
			Type: 3, Variant: 2, NVariants: 4,
			Data: bytes.Repeat([]byte{0x7f}, 16),
		},
	}

	for name, p := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, wire.WriteProblem(&buf, p))
			require.Zero(t, buf.Len()%16, "frame must be 16-byte aligned")

			got, err := wire.ReadProblem(&buf)
			require.NoError(t, err)
			require.Equal(t, p.Type, got.Type)
			require.Equal(t, p.Variant, got.Variant)
			require.Equal(t, p.NVariants, got.NVariants)
			require.True(t, bytes.Equal(p.Data, trimPad(got.Data, len(p.Data))))
		})
	}
}

func TestResultRoundTrip(t *testing.T) {
	tests := map[string]wire.Result{
		"failed, no payload": {Failed: true},
		"success w/ payload": {Failed: false, Data: []byte("the answer")},
	}

	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, wire.WriteResult(&buf, r))

			got, err := wire.ReadResult(&buf)
			require.NoError(t, err)
			require.Equal(t, r.Failed, got.Failed)
			require.True(t, bytes.Equal(r.Data, trimPad(got.Data, len(r.Data))))
		})
	}
}

func TestReadResultShortFrame(t *testing.T) {
	r := bytes.NewReader([]byte{0x01, 0x02})
	_, err := wire.ReadResult(r)
	require.ErrorIs(t, err, wire.ErrShortFrame)
}

func TestReadProblemShortFrame(t *testing.T) {
	_, err := wire.ReadProblem(bytes.NewReader(nil))
	require.ErrorIs(t, err, wire.ErrShortFrame)
}

func TestReadResultTruncatedPayloadIsZeroPadded(t *testing.T) {
	full := wire.Result{Failed: false, Data: []byte("0123456789abcdef")}
	var buf bytes.Buffer
	require.NoError(t, wire.WriteResult(&buf, full))

	declaredSize := buf.Len()
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-4])
	got, err := wire.ReadResult(truncated)
	require.NoError(t, err)

	// The decoded payload must span the full size the header declared, not
	// just the bytes actually present on the wire before truncation.
	require.Len(t, got.Data, declaredSize-8)
	require.True(t, bytes.Equal(full.Data, got.Data[:len(full.Data)]), "bytes present before truncation must survive")
	for i, b := range got.Data[len(full.Data):] {
		require.Zerof(t, b, "byte %d past the truncation point must be zero", i)
	}
}

// trimPad accounts for the codec's 16-byte payload alignment: the decoded
// Data slice may be longer than what was written, padded with zero bytes.
func trimPad(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	for _, b := range data[n:] {
		if b != 0 {
			return data
		}
	}
	return data[:n]
}

var _ io.Reader = (*bytes.Reader)(nil)
