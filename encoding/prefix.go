package encoding

// prefix.go implements the framed wire format shared by the nodes, the
// gateway's submission port, and the app server: a 2-byte big-endian length
// prefix followed by that many bytes of UTF-8 JSON.

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"gitlab.com/NebulousLabs/errors"
)

const (
	// MaxFrameSize is the largest payload a 2-byte length prefix can
	// describe. Frames claiming more than this are impossible to produce,
	// but the check stays as a guard on the prefix arithmetic.
	MaxFrameSize = 65535

	// prefixLen is the size of the frame length prefix.
	prefixLen = 2
)

var (
	// ErrFrameTooLarge is returned when writing a payload that does not fit
	// in a single frame.
	ErrFrameTooLarge = errors.New("frame payload exceeds 65535 bytes")
)

// WriteFrame writes data to w with a 2-byte big-endian length prefix.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	prefix := make([]byte, prefixLen)
	binary.BigEndian.PutUint16(prefix, uint16(len(data)))
	if _, err := w.Write(prefix); err != nil {
		return errors.AddContext(err, "unable to write frame prefix")
	}
	if _, err := w.Write(data); err != nil {
		return errors.AddContext(err, "unable to write frame payload")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	prefix := make([]byte, prefixLen)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	dataLen := binary.BigEndian.Uint16(prefix)
	data := make([]byte, dataLen)
	n, err := io.ReadFull(r, data)
	if err != nil {
		return nil, fmt.Errorf("frame truncated at %d of %d bytes: %v", n, dataLen, err)
	}
	return data, nil
}

// WriteObject marshals obj as JSON and writes it as a single frame.
func WriteObject(w io.Writer, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.AddContext(err, "unable to marshal framed object")
	}
	return WriteFrame(w, data)
}

// ReadObject reads a single frame and unmarshals it into obj.
func ReadObject(r io.Reader, obj interface{}) error {
	data, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, obj); err != nil {
		return errors.AddContext(err, "unable to unmarshal framed object")
	}
	return nil
}
