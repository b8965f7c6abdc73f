package axmlparser

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

const (
	localFileHeaderSize = 30

	// Entries are read whole into memory, this is the default cap.
	DefaultEntryLimit = 64 * 1024 * 1024
)

var localFileHeaderMagic = []byte{0x50, 0x4B, 0x03, 0x04}

type zipReaderEntry struct {
	offset         int64
	method         uint16
	compressedSize uint32
}

// ZipReader reads single entries out of an APK. It handles even broken
// archives that Android can read, but archive/zip cannot, by falling back to
// scanning the local file headers.
type ZipReader struct {
	// Names in the order they were found, may repeat in crafted archives.
	Names []string

	files   map[string][]*zip.File
	entries map[string][]zipReaderEntry

	r     io.ReaderAt
	size  int64
	owned *os.File
}

// OpenZip opens the archive at path for reading.
func OpenZip(path string) (*ZipReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	zr, err := OpenZipReader(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	zr.owned = f
	return zr, nil
}

// OpenZipReader reads the archive directory of r.
func OpenZipReader(r io.ReaderAt, size int64) (*ZipReader, error) {
	zr := &ZipReader{
		files:   make(map[string][]*zip.File),
		entries: make(map[string][]zipReaderEntry),
		r:       r,
		size:    size,
	}

	if zipinfo, err := tryReadZip(r, size); err == nil {
		for _, zf := range zipinfo.File {
			if zf.Method != zip.Store && zf.Method != zip.Deflate {
				// Android treats unknown methods as deflate, except for the
				// files it extracts with ZipAssetsProvider.
				// 9a7d5266c223122d24d0061465bf781888984b4b04d9d0df8a76c3e3fe7a3fd0
				switch zf.Name {
				case "AndroidManifest.xml", "resources.arsc":
					zf.Method = zip.Store
					// 9d055fa3a30b076fdcab3bc9dcf8c1050c548411e88f967b9bd71928ea945fde
					zf.CompressedSize64 = zf.UncompressedSize64
				default:
					zf.Method = zip.Deflate
				}
			}

			name := path.Clean(zf.Name)
			zr.files[name] = append(zr.files[name], zf)
			zr.Names = append(zr.Names, name)
		}
		return zr, nil
	}

	if err := zr.scanLocalHeaders(); err != nil {
		return nil, err
	}
	if len(zr.Names) == 0 {
		return nil, errors.New("not a zip archive: no local file headers found")
	}
	return zr, nil
}

func tryReadZip(r io.ReaderAt, size int64) (zr *zip.Reader, err error) {
	defer func() {
		if pn := recover(); pn != nil {
			err = fmt.Errorf("%v", pn)
			zr = nil
		}
	}()

	zr, err = zip.NewReader(r, size)
	if err != nil {
		return
	}

	zr.RegisterDecompressor(zip.Deflate, newFlateReader)
	return
}

func (zr *ZipReader) scanLocalHeaders() error {
	data := make([]byte, zr.size)
	if _, err := zr.r.ReadAt(data, 0); err != nil && err != io.EOF {
		return errors.Wrap(err, "reading archive")
	}

	for off := 0; ; off += len(localFileHeaderMagic) {
		idx := bytes.Index(data[off:], localFileHeaderMagic)
		if idx < 0 {
			return nil
		}
		off += idx

		if off+localFileHeaderSize > len(data) {
			return nil
		}

		hdr := data[off : off+localFileHeaderSize]
		nameLen := int(binary.LittleEndian.Uint16(hdr[26:]))
		extraLen := int(binary.LittleEndian.Uint16(hdr[28:]))
		if off+localFileHeaderSize+nameLen > len(data) {
			return nil
		}

		name := path.Clean(string(data[off+localFileHeaderSize : off+localFileHeaderSize+nameLen]))
		e := zipReaderEntry{
			offset:         int64(off + localFileHeaderSize + nameLen + extraLen),
			method:         binary.LittleEndian.Uint16(hdr[8:]),
			compressedSize: binary.LittleEndian.Uint32(hdr[18:]),
		}

		// The last entry of a name wins, like on Android.
		zr.entries[name] = append([]zipReaderEntry{e}, zr.entries[name]...)
		zr.Names = append(zr.Names, name)
	}
}

// Has reports whether the archive has an entry called name.
func (zr *ZipReader) Has(name string) bool {
	name = path.Clean(name)
	return len(zr.files[name]) != 0 || len(zr.entries[name]) != 0
}

// ReadEntry returns the contents of the entry called name, reading at most
// limit bytes. When several entries share the name, the first one that reads
// without error is returned.
func (zr *ZipReader) ReadEntry(name string, limit int64) ([]byte, error) {
	name = path.Clean(name)

	var lastErr error
	for _, zf := range zr.files[name] {
		rc, err := zf.Open()
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(io.LimitReader(rc, limit))
		rc.Close()
		if err == nil {
			return data, nil
		}
		lastErr = err
	}

	for _, e := range zr.entries[name] {
		data, err := zr.readLocalEntry(e, limit)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, errors.Wrapf(lastErr, "reading %s", name)
	}
	return nil, errors.Wrap(ErrEntryNotFound, name)
}

func (zr *ZipReader) readLocalEntry(e zipReaderEntry, limit int64) ([]byte, error) {
	size := zr.size - e.offset
	if e.compressedSize != 0 && int64(e.compressedSize) < size {
		size = int64(e.compressedSize)
	}

	var r io.Reader = io.NewSectionReader(zr.r, e.offset, size)
	switch e.method {
	case zip.Store:
	default: // Android treats everything but 0 as deflate
		fr := newFlateReader(r)
		defer fr.Close()
		r = fr
	}
	return io.ReadAll(io.LimitReader(r, limit))
}

// Close releases the file opened by OpenZip.
func (zr *ZipReader) Close() error {
	if zr.owned == nil {
		return nil
	}
	err := zr.owned.Close()
	zr.owned = nil
	return err
}

var flateReaderPool sync.Pool

func newFlateReader(r io.Reader) io.ReadCloser {
	fr, ok := flateReaderPool.Get().(io.ReadCloser)
	if ok {
		fr.(flate.Resetter).Reset(r, nil)
	} else {
		fr = flate.NewReader(r)
	}
	return &pooledFlateReader{fr: fr}
}

type pooledFlateReader struct {
	mu sync.Mutex // guards Close and Read
	fr io.ReadCloser
}

func (r *pooledFlateReader) Read(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return 0, errors.New("Read after Close")
	}
	return r.fr.Read(p)
}

func (r *pooledFlateReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.fr != nil {
		err = r.fr.Close()
		flateReaderPool.Put(r.fr)
		r.fr = nil
	}
	return err
}
