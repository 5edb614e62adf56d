package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/OCAP2/arrowlink/pkg/core"
)

var (
	// ErrUnknownTag is returned for a frame tag outside the known set.
	ErrUnknownTag = errors.New("unknown frame tag")
	// ErrTruncated is returned when the stream ends inside a frame.
	ErrTruncated = errors.New("truncated frame")
	// ErrInvalidField is returned for a flag or role byte with an unknown value.
	ErrInvalidField = errors.New("invalid frame field")
)

var byteOrder = binary.BigEndian

// MaxFrameSize is the size of the largest frame, tag included.
const MaxFrameSize = 1 + positionPayloadSize

// Encode returns the frame for m.
func Encode(m Message) ([]byte, error) {
	return AppendFrame(make([]byte, 0, MaxFrameSize), m)
}

// AppendFrame appends the frame for m to dst.
func AppendFrame(dst []byte, m Message) ([]byte, error) {
	switch v := m.(type) {
	case PositionUpdate:
		dst = append(dst, byte(KindPositionUpdate))
		dst = byteOrder.AppendUint64(dst, math.Float64bits(v.Pose.X))
		dst = byteOrder.AppendUint64(dst, math.Float64bits(v.Pose.Y))
		dst = byteOrder.AppendUint64(dst, math.Float64bits(v.Pose.Z))
		dst = byteOrder.AppendUint64(dst, math.Float64bits(v.Pose.RotationDeg))
		dst = append(dst, boolByte(v.Pose.Found))
		return dst, nil
	case TimingPing:
		if !v.Origin.Valid() {
			return dst, fmt.Errorf("%w: role %d", ErrInvalidField, v.Origin)
		}
		dst = append(dst, byte(KindTimingPing), byte(v.Origin))
		dst = byteOrder.AppendUint64(dst, uint64(v.SentAtMillis))
		return dst, nil
	case nil:
		return dst, errors.New("encode nil message")
	default:
		return dst, fmt.Errorf("encode unsupported message %T", m)
	}
}

// Decode reads exactly one frame from r. A stream that ends cleanly before a
// tag returns io.EOF; any other failure is fatal for the stream.
func Decode(r io.Reader) (Message, error) {
	var buf [MaxFrameSize]byte
	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return nil, err
	}

	kind := Kind(buf[0])
	size, ok := kind.payloadSize()
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, buf[0])
	}

	payload := buf[1 : 1+size]
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s: %w", ErrTruncated, kind, io.ErrUnexpectedEOF)
		}
		return nil, err
	}

	return decodePayload(kind, payload)
}

func decodePayload(kind Kind, p []byte) (Message, error) {
	switch kind {
	case KindPositionUpdate:
		found, err := byteBool(p[32])
		if err != nil {
			return nil, err
		}
		return PositionUpdate{Pose: core.Pose{
			X:           math.Float64frombits(byteOrder.Uint64(p[0:8])),
			Y:           math.Float64frombits(byteOrder.Uint64(p[8:16])),
			Z:           math.Float64frombits(byteOrder.Uint64(p[16:24])),
			RotationDeg: math.Float64frombits(byteOrder.Uint64(p[24:32])),
			Found:       found,
		}}, nil
	case KindTimingPing:
		role := core.Role(p[0])
		if !role.Valid() {
			return nil, fmt.Errorf("%w: role byte 0x%02x", ErrInvalidField, p[0])
		}
		return TimingPing{
			Origin:       role,
			SentAtMillis: int64(byteOrder.Uint64(p[1:9])),
		}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, uint8(kind))
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func byteBool(b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: flag byte 0x%02x", ErrInvalidField, b)
	}
}

// Decoder reads frames from a buffered stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4*MaxFrameSize)}
}

// Decode reads the next frame.
func (d *Decoder) Decode() (Message, error) {
	return Decode(d.r)
}

// Encoder writes one frame per call with a single Write.
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, 0, MaxFrameSize)}
}

// Encode writes the frame for m.
func (e *Encoder) Encode(m Message) error {
	frame, err := AppendFrame(e.buf[:0], m)
	if err != nil {
		return err
	}
	e.buf = frame
	_, err = e.w.Write(frame)
	return err
}
