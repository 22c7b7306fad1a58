package persist

// NOTE: The safe json files include a checksum that is allowed to be manually
// overwritten by the user, by replacing the checksum line with the string
// "manual". This temporarily exposes the user to corruption: if the disk
// fails right after a manual edit, the loader cannot detect it.

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/build"
	"github.com/water-bottle-afk/aurex/crypto"
)

// verifyChecksum disregards the metadata of the saved file and just verifies
// that the checksum matches the data below it.
func verifyChecksum(filename string) bool {
	file, err := os.Open(filename)
	if os.IsNotExist(err) {
		// No file at all means everything is okay; this is the condition hit
		// the first time a file is ever saved.
		return true
	}
	if err != nil {
		return false
	}
	defer file.Close()

	// The metadata is not covered by the checksum, but it has to be read to
	// get to the checksum.
	var header, version string
	dec := json.NewDecoder(file)
	if err := dec.Decode(&header); err != nil {
		return false
	}
	if err := dec.Decode(&version); err != nil {
		return false
	}
	remainingBytes, err := io.ReadAll(dec.Buffered())
	if err != nil {
		return false
	}
	// The buffer may or may not have consumed the rest of the file.
	remainingBytesExtra, err := io.ReadAll(file)
	if err != nil {
		return false
	}
	remainingBytes = append(remainingBytes, remainingBytesExtra...)

	// A proper checksum is 67 bytes (quote, 64 byte checksum, quote,
	// newline). A manual checksum is the characters "manual" (8 bytes with
	// the quotes). If neither decodes, assume there is no checksum at all.
	var checksum crypto.Hash
	if len(remainingBytes) >= 67 {
		err = json.Unmarshal(remainingBytes[:67], &checksum)
		if err == nil {
			return checksum == crypto.HashBytes(remainingBytes[68:])
		}
	}
	var manualChecksum string
	if len(remainingBytes) >= 8 {
		err = json.Unmarshal(remainingBytes[:8], &manualChecksum)
		if err == nil && manualChecksum == "manual" {
			return true
		}
	}
	// Files written before checksums were added hold plain json here.
	return json.Valid(remainingBytes)
}

// readJSON reads a persisted json object from a file.
func readJSON(meta Metadata, object interface{}, filename string) error {
	file, err := os.Open(filename)
	if os.IsNotExist(err) {
		return err
	}
	if err != nil {
		return errors.AddContext(err, "unable to open persisted json object file")
	}
	defer file.Close()

	var header, version string
	dec := json.NewDecoder(file)
	if err := dec.Decode(&header); err != nil {
		return errors.AddContext(err, "unable to read header from persisted json object file")
	}
	if header != meta.Header {
		return ErrBadHeader
	}
	if err := dec.Decode(&version); err != nil {
		return errors.AddContext(err, "unable to read version from persisted json object file")
	}
	if version != meta.Version {
		return ErrBadVersion
	}

	remainingBytes, err := io.ReadAll(dec.Buffered())
	if err != nil {
		return errors.AddContext(err, "unable to read persisted json object data")
	}
	remainingBytesExtra, err := io.ReadAll(file)
	if err != nil {
		return errors.AddContext(err, "unable to read persisted json object data")
	}
	remainingBytes = append(remainingBytes, remainingBytesExtra...)

	// Strip a valid checksum if one is present, failing on a mismatch.
	checkManual := len(remainingBytes) >= 8
	if len(remainingBytes) >= 67 {
		var checksum crypto.Hash
		err = json.Unmarshal(remainingBytes[:67], &checksum)
		checkManual = checkManual && err != nil
		if err == nil && checksum != crypto.HashBytes(remainingBytes[68:]) {
			return errors.New("loading a file with a bad checksum")
		} else if err == nil {
			remainingBytes = remainingBytes[68:]
		}
	}
	if checkManual {
		var manualChecksum string
		err := json.Unmarshal(remainingBytes[:8], &manualChecksum)
		if err == nil && manualChecksum != "manual" {
			return errors.New("loading a file with a bad checksum")
		} else if err == nil {
			remainingBytes = remainingBytes[9:]
		}
	}

	return json.Unmarshal(remainingBytes, &object)
}

// LoadJSON loads a persisted json object from disk.
func LoadJSON(meta Metadata, object interface{}, filename string) error {
	if strings.HasSuffix(filename, tempSuffix) {
		return ErrBadFilenameSuffix
	}

	// Verify that no other thread is using this filename.
	err := func() error {
		activeFilesMu.Lock()
		defer activeFilesMu.Unlock()

		_, exists := activeFiles[filename]
		if exists {
			build.Critical(ErrFileInUse, filename)
			return ErrFileInUse
		}
		activeFiles[filename] = struct{}{}
		return nil
	}()
	if err != nil {
		return err
	}
	defer func() {
		activeFilesMu.Lock()
		delete(activeFiles, filename)
		activeFilesMu.Unlock()
	}()

	return readJSON(meta, object, filename)
}

// SaveJSON saves a json object to disk in a durable, atomic way. The
// resulting file has a checksum of the data as the third line. When manually
// editing a file, the checksum line can be replaced with the string
// "manual", which makes the reader accept the contents even though the file
// has changed.
func SaveJSON(meta Metadata, object interface{}, filename string) error {
	if strings.HasSuffix(filename, tempSuffix) {
		return ErrBadFilenameSuffix
	}

	// Verify that no other thread is using this filename.
	err := func() error {
		activeFilesMu.Lock()
		defer activeFilesMu.Unlock()

		_, exists := activeFiles[filename]
		if exists {
			build.Critical(ErrFileInUse, filename)
			return ErrFileInUse
		}
		activeFiles[filename] = struct{}{}
		return nil
	}()
	if err != nil {
		return err
	}
	defer func() {
		activeFilesMu.Lock()
		delete(activeFiles, filename)
		activeFilesMu.Unlock()
	}()

	// Write metadata, checksum, and object to a buffer.
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	if err := enc.Encode(meta.Header); err != nil {
		return errors.AddContext(err, "unable to encode metadata header")
	}
	if err := enc.Encode(meta.Version); err != nil {
		return errors.AddContext(err, "unable to encode metadata version")
	}
	objBytes, err := json.MarshalIndent(object, "", "\t")
	if err != nil {
		return errors.AddContext(err, "unable to marshal the provided object")
	}
	checksum := crypto.HashBytes(objBytes)
	if err := enc.Encode(checksum); err != nil {
		return errors.AddContext(err, "unable to encode checksum")
	}
	buf.Write(objBytes)
	data := buf.Bytes()

	// Write out the data to the temp file, with a sync. If the real file is
	// corrupt, the temp file may be the only good copy left, so it is not
	// overwritten in that case.
	err = func() (err error) {
		if !verifyChecksum(filename) {
			return nil
		}
		file, err := os.OpenFile(filename+tempSuffix, os.O_RDWR|os.O_TRUNC|os.O_CREATE, 0600)
		if err != nil {
			return errors.AddContext(err, "unable to open temp file")
		}
		defer func() {
			err = errors.Compose(err, file.Close())
		}()
		_, err = file.Write(data)
		if err != nil {
			return errors.AddContext(err, "unable to write temp file")
		}
		err = file.Sync()
		if err != nil {
			return errors.AddContext(err, "unable to sync temp file")
		}
		return nil
	}()
	if err != nil {
		return err
	}

	// Write out the data to the real file, with a sync.
	err = func() (err error) {
		file, err := os.OpenFile(filename, os.O_RDWR|os.O_TRUNC|os.O_CREATE, 0600)
		if err != nil {
			return errors.AddContext(err, "unable to open file")
		}
		defer func() {
			err = errors.Compose(err, file.Close())
		}()
		_, err = file.Write(data)
		if err != nil {
			return errors.AddContext(err, "unable to write file")
		}
		err = file.Sync()
		if err != nil {
			return errors.AddContext(err, "unable to sync file")
		}
		return nil
	}()
	if err != nil {
		return err
	}
	return nil
}
