package detailstore

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"gitmine.dev/labbook/internal/labbookerr"
)

const (
	magic           = "__g__lsn"
	headerLen       = 20 // len(magic) + 3 * uint32
	basenameWidth   = 20 // fixed width of the basename prefix carried in every key
	maxRecordLength = 1<<32 - 1
)

// header is the 20-byte binary framing in front of every payload written to
// a log file: magic, file number, offset, and length, all little-endian.
type header struct {
	fileNumber uint32
	offset     uint32
	length     uint32
}

func (h header) encode() []byte {
	buf := make([]byte, headerLen)
	copy(buf[0:8], magic)
	binary.LittleEndian.PutUint32(buf[8:12], h.fileNumber)
	binary.LittleEndian.PutUint32(buf[12:16], h.offset)
	binary.LittleEndian.PutUint32(buf[16:20], h.length)
	return buf
}

func decodeHeader(b []byte) (header, error) {
	if len(b) < headerLen {
		return header{}, labbookerr.New(labbookerr.KindIntegrity, "detailstore.decodeHeader", "short header", nil)
	}
	if string(b[0:8]) != magic {
		return header{}, labbookerr.New(labbookerr.KindIntegrity, "detailstore.decodeHeader", "magic mismatch", nil)
	}
	return header{
		fileNumber: binary.LittleEndian.Uint32(b[8:12]),
		offset:     binary.LittleEndian.Uint32(b[12:16]),
		length:     binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

// fixedBasename pads or truncates id to exactly basenameWidth bytes so that
// a key's first 20 bytes always recover the log-file-family prefix, even
// though checkout ids are longer than that in practice.
func fixedBasename(checkoutID string) string {
	name := "detail_log-" + checkoutID
	if len(name) >= basenameWidth {
		return name[:basenameWidth]
	}
	for len(name) < basenameWidth {
		name += "-"
	}
	return name
}

// encodeKey builds the opaque detail key string for a record at the given
// file number, offset, and length under basename.
func encodeKey(basename string, h header) string {
	return basename + base64.StdEncoding.EncodeToString(h.encode())
}

// parseKey recovers (basename, header) from a key produced by encodeKey.
func parseKey(key string) (string, header, error) {
	if len(key) <= basenameWidth {
		return "", header{}, labbookerr.New(labbookerr.KindIntegrity, "detailstore.parseKey", "key too short", nil)
	}
	basename := key[:basenameWidth]
	raw, err := base64.StdEncoding.DecodeString(key[basenameWidth:])
	if err != nil {
		return "", header{}, labbookerr.New(labbookerr.KindIntegrity, "detailstore.parseKey", "invalid header encoding", err)
	}
	h, err := decodeHeader(raw)
	if err != nil {
		return "", header{}, err
	}
	return basename, h, nil
}

func checkRecordSize(n int) error {
	if n > maxRecordLength {
		return labbookerr.New(labbookerr.KindValidation, "detailstore.Put",
			fmt.Sprintf("record of %d bytes exceeds the 4 GiB per-record cap imposed by the 32-bit length field", n), nil)
	}
	return nil
}
