// Package detailstore implements C1, the rotating append-only binary log
// ("detail store") that backs large Activity Detail Record payloads. Every
// write is framed with a fixed 20-byte header so files can be scanned
// forward for recovery; reads are lock-free because log files are
// append-only.
package detailstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"gitmine.dev/labbook/internal/labbookerr"
	"gitmine.dev/labbook/internal/obslog"
)

const metadataFilename = ".detaildb"

// metadata is the small JSON sidecar tracking which log-file family is
// current and how far it has rotated.
type metadata struct {
	Basename   string `json:"basename"`
	FileNumber uint32 `json:"file_number"`
}

// Store is a single checkout's detail log file family. All mutating access
// goes through put, which holds mu for the duration of the write — the
// store-wide lock named in the spec. get needs no lock: files are
// append-only once written.
type Store struct {
	mu sync.Mutex

	rootPath    string // directory holding the log files and metadata sidecar
	basename    string // fixed-width prefix for this checkout's file family
	logfileSize int64  // soft cap in bytes before rotating to the next file number

	fileNumber uint32
	log        *obslog.Logger
}

// Open loads or initializes the detail store rooted at rootPath for the
// given checkout id. logfileLimit is the soft rotation threshold
// (config.DetailDBConfig.LogfileLimit); callers inject it rather than
// relying on a partially-constructed configuration object, per the
// corrected contract in SPEC_FULL.md §9.
func Open(rootPath, checkoutID string, logfileLimit int64, log *obslog.Logger) (*Store, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, labbookerr.New(labbookerr.KindInternal, "detailstore.Open", "could not create root path", err)
	}

	s := &Store{
		rootPath:    rootPath,
		basename:    fixedBasename(checkoutID),
		logfileSize: logfileLimit,
		log:         log,
	}

	if err := s.loadOrInitMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.rootPath, metadataFilename)
}

// loadOrInitMetadata implements the checkout-context change detection rule:
// if the on-disk basename differs from the store's own (a different
// checkout is now active against this directory), the file number resets
// to 0 and a warning is logged — writes now go into a fresh family.
func (s *Store) loadOrInitMetadata() error {
	data, err := os.ReadFile(s.metadataPath())
	if os.IsNotExist(err) {
		return s.writeMetadata(0)
	}
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "detailstore.Open", "could not read metadata file", err)
	}

	var m metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return labbookerr.New(labbookerr.KindIntegrity, "detailstore.Open", "malformed .detaildb", err)
	}
	if m.Basename != s.basename {
		s.log.Warnf("checkout context changed (had %q, now %q); resetting detail log file index", m.Basename, s.basename)
		return s.writeMetadata(0)
	}
	s.fileNumber = m.FileNumber
	return nil
}

func (s *Store) writeMetadata(fileNumber uint32) error {
	data, err := json.Marshal(metadata{Basename: s.basename, FileNumber: fileNumber})
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "detailstore.writeMetadata", "could not marshal metadata", err)
	}
	if err := os.WriteFile(s.metadataPath(), data, 0o644); err != nil {
		return labbookerr.New(labbookerr.KindInternal, "detailstore.writeMetadata", "could not write metadata", err)
	}
	s.fileNumber = fileNumber
	return nil
}

func (s *Store) currentLogPath() string {
	return filepath.Join(s.rootPath, fmt.Sprintf("%s%d", s.basename, s.fileNumber))
}

// openForAppendAndRotate opens the current log file for append, rotating to
// the next file number first if the file is already past the soft limit.
// Caller must hold mu.
func (s *Store) openForAppendAndRotate() (*os.File, error) {
	fh, err := os.OpenFile(s.currentLogPath(), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, labbookerr.New(labbookerr.KindInternal, "detailstore.Put", "could not open log file for append", err)
	}

	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, labbookerr.New(labbookerr.KindInternal, "detailstore.Put", "could not stat log file", err)
	}

	if info.Size() > s.logfileSize {
		fh.Close()
		s.log.Infof("rotating detail log %s past %s, advancing to file number %d",
			s.currentLogPath(), humanize.Bytes(uint64(s.logfileSize)), s.fileNumber+1)
		if err := s.writeMetadata(s.fileNumber + 1); err != nil {
			return nil, err
		}
		return s.openForAppendAndRotate()
	}

	return fh, nil
}

// Put appends value to the current log file under the store-wide lock,
// rotating first if needed, and returns the opaque key that recovers it.
func (s *Store) Put(value []byte) (string, error) {
	if err := checkRecordSize(len(value)); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fh, err := s.openForAppendAndRotate()
	if err != nil {
		return "", err
	}
	defer fh.Close()

	offset, err := fh.Seek(0, os.SEEK_END)
	if err != nil {
		return "", labbookerr.New(labbookerr.KindInternal, "detailstore.Put", "could not seek to end of log file", err)
	}

	h := header{fileNumber: s.fileNumber, offset: uint32(offset), length: uint32(len(value))}
	record := append(h.encode(), value...)
	if _, err := fh.Write(record); err != nil {
		return "", labbookerr.New(labbookerr.KindInternal, "detailstore.Put", "could not write detail record", err)
	}

	return encodeKey(s.basename, h), nil
}

// Get parses key and returns the framed record (header ‖ payload) exactly as
// Put wrote it. No lock is required: log files are append-only, so a
// concurrent Put cannot disturb a region already fully written.
func (s *Store) Get(key string) ([]byte, error) {
	basename, h, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.rootPath, fmt.Sprintf("%s%d", basename, h.fileNumber))
	fh, err := os.Open(path)
	if err != nil {
		return nil, labbookerr.New(labbookerr.KindNotFound, "detailstore.Get", "log file for key not found", err)
	}
	defer fh.Close()

	if _, err := fh.Seek(int64(h.offset), os.SEEK_SET); err != nil {
		return nil, labbookerr.New(labbookerr.KindInternal, "detailstore.Get", "could not seek to record offset", err)
	}

	buf := make([]byte, headerLen+int(h.length))
	if _, err := fh.Read(buf); err != nil {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "detailstore.Get", "truncated record: length exceeds file size", err)
	}

	return buf, nil
}

// RootPath returns the directory this store writes into, used by the
// Activity Store to stage the whole detail-log directory before commit.
func (s *Store) RootPath() string { return s.rootPath }

// HeaderLen exposes the fixed record-header width so callers that frame
// their own envelope on top of a raw Get (such as the Activity Store's
// write-options byte) can find where the payload begins.
func HeaderLen() int { return headerLen }
