package lsmcore

import (
	"encoding/binary"
	"hash/crc32"
)

// This implements LevelDB's own log::Writer/log::Reader block format:
// the MANIFEST is a sequence of 32 KiB blocks, each holding one or
// more records framed by a 7-byte header (4-byte CRC32C, 2-byte
// length, 1-byte type). A record longer than the space left in a
// block is fragmented across block boundaries.

const (
	logBlockSize = 32 * 1024
	logHeaderLen = 7

	recordFull   = 1
	recordFirst  = 2
	recordMiddle = 3
	recordLast   = 4
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// logWriter frames records into 32 KiB blocks for a WritableFile.
type logWriter struct {
	dst      WritableFile
	blockOff int
}

func newLogWriter(dst WritableFile) *logWriter {
	return &logWriter{dst: dst}
}

// AddRecord writes one logical record, fragmenting it across block
// boundaries as needed.
func (w *logWriter) AddRecord(data []byte) error {
	first := true
	for {
		leftover := logBlockSize - w.blockOff
		if leftover < logHeaderLen {
			if leftover > 0 {
				if _, err := w.dst.Write(make([]byte, leftover)); err != nil {
					return err
				}
			}
			w.blockOff = 0
		}

		avail := logBlockSize - w.blockOff - logHeaderLen
		fragment := len(data)
		if fragment > avail {
			fragment = avail
		}

		last := fragment == len(data)
		var recType byte
		switch {
		case first && last:
			recType = recordFull
		case first:
			recType = recordFirst
		case last:
			recType = recordLast
		default:
			recType = recordMiddle
		}

		if err := w.writePhysicalRecord(recType, data[:fragment]); err != nil {
			return err
		}
		data = data[fragment:]
		first = false
		if len(data) == 0 {
			break
		}
	}
	return nil
}

func (w *logWriter) writePhysicalRecord(recType byte, data []byte) error {
	var header [logHeaderLen]byte
	crc := crc32.Checksum(append([]byte{recType}, data...), crc32cTable)
	binary.LittleEndian.PutUint32(header[0:4], crc)
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(data)))
	header[6] = recType

	if _, err := w.dst.Write(header[:]); err != nil {
		return wrapIOError(err, "write log record header")
	}
	if _, err := w.dst.Write(data); err != nil {
		return wrapIOError(err, "write log record body")
	}
	w.blockOff += logHeaderLen + len(data)
	return nil
}

// logReader reassembles records from a block-framed byte stream
// previously produced by logWriter.
type logReader struct {
	data     []byte
	consumed int
}

func newLogReader(data []byte) *logReader {
	return &logReader{data: data}
}

// ReadRecord returns the next logical record, or (nil, false) at a
// clean end of stream. It returns ErrCorruption on a bad checksum, an
// unexpected record type sequence, or a truncated trailing record.
func (r *logReader) ReadRecord() ([]byte, bool, error) {
	var record []byte
	inFragment := false

	for {
		blockOff := r.consumed % logBlockSize
		if leftover := logBlockSize - blockOff; leftover < logHeaderLen {
			// The writer zero-pads the tail of a block when there is
			// not enough room left for a header; skip to the next
			// block boundary.
			skip := leftover
			if skip > len(r.data) {
				skip = len(r.data)
			}
			r.data = r.data[skip:]
			r.consumed += skip
			if len(r.data) == 0 {
				if inFragment {
					return nil, false, wrapCorruption(nil, "log: truncated record at end of stream")
				}
				return nil, false, nil
			}
			continue
		}

		if len(r.data) == 0 {
			if inFragment {
				return nil, false, wrapCorruption(nil, "log: truncated record at end of stream")
			}
			return nil, false, nil
		}
		if len(r.data) < logHeaderLen {
			return nil, false, wrapCorruption(nil, "log: truncated record header")
		}

		crcWant := binary.LittleEndian.Uint32(r.data[0:4])
		length := binary.LittleEndian.Uint16(r.data[4:6])
		recType := r.data[6]

		if logHeaderLen+int(length) > len(r.data) {
			return nil, false, wrapCorruption(nil, "log: record length exceeds remaining data")
		}

		body := r.data[logHeaderLen : logHeaderLen+int(length)]
		crcGot := crc32.Checksum(append([]byte{recType}, body...), crc32cTable)
		if crcGot != crcWant {
			return nil, false, wrapCorruption(nil, "log: checksum mismatch")
		}
		r.data = r.data[logHeaderLen+int(length):]
		r.consumed += logHeaderLen + int(length)

		switch recType {
		case recordFull:
			if inFragment {
				return nil, false, wrapCorruption(nil, "log: unexpected full record mid-fragment")
			}
			return body, true, nil
		case recordFirst:
			if inFragment {
				return nil, false, wrapCorruption(nil, "log: unexpected first record mid-fragment")
			}
			record = append([]byte{}, body...)
			inFragment = true
		case recordMiddle:
			if !inFragment {
				return nil, false, wrapCorruption(nil, "log: unexpected middle record")
			}
			record = append(record, body...)
		case recordLast:
			if !inFragment {
				return nil, false, wrapCorruption(nil, "log: unexpected last record")
			}
			record = append(record, body...)
			return record, true, nil
		default:
			return nil, false, wrapCorruption(nil, "log: unknown record type")
		}
	}
}
