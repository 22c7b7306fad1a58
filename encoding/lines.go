package encoding

// lines.go implements the newline-delimited JSON format used for block
// confirmations on the node → gateway → app server path. One JSON object per
// line, no length prefix.

import (
	"bufio"
	"encoding/json"
	"io"

	"gitlab.com/NebulousLabs/errors"
)

// maxLineSize bounds a single confirmation line. Confirmations carry one
// block with its transactions, well under this.
const maxLineSize = 1 << 20

// WriteLine marshals obj as JSON and writes it followed by a newline.
func WriteLine(w io.Writer, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.AddContext(err, "unable to marshal line object")
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return errors.AddContext(err, "unable to write line")
	}
	return nil
}

// NewLineReader wraps r for ReadLine. The same reader must be reused across
// calls so that buffered bytes are not lost.
func NewLineReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64<<10)
}

// ReadLine reads one newline-terminated JSON object from br into obj. It
// returns io.EOF once the stream is exhausted. The line is read in
// buffer-sized chunks so an oversized line fails at maxLineSize instead of
// buffering without bound.
func ReadLine(br *bufio.Reader, obj interface{}) error {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLineSize {
			return errors.New("line exceeds maximum size")
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil && (err != io.EOF || len(line) == 0) {
			return err
		}
		break
	}
	if err := json.Unmarshal(line, obj); err != nil {
		return errors.AddContext(err, "unable to unmarshal line object")
	}
	return nil
}
