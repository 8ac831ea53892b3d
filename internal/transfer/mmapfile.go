package transfer

import (
	"os"

	"github.com/blevesearch/mmap-go"
)

// mappedFile tracks the session's single open mmap, so repeated chunk
// reads against the same file_index reuse the mapping (spec.md §4.8
// "Chunk read").
type mappedFile struct {
	fileIndex int
	file      *os.File
	data      mmap.MMap
}

func (m *mappedFile) close() {
	if m == nil {
		return
	}
	if m.data != nil {
		m.data.Unmap()
	}
	if m.file != nil {
		m.file.Close()
	}
}

// ensure maps path for fileIndex if the session's current mapping is for
// a different file, unmapping the previous one first.
func (m *mappedFile) ensure(fileIndex int, path string) error {
	if m.data != nil && m.fileIndex == fileIndex {
		return nil
	}
	m.close()
	m.fileIndex = fileIndex
	m.data = nil
	m.file = nil

	f, err := os.Open(path)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if info.Size() == 0 {
		m.file = f
		m.data = mmap.MMap{}
		return nil
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return err
	}
	adviseSequential(data)

	m.file = f
	m.data = data
	return nil
}

// readChunk returns the bounded slice [offset, min(offset+maxSize, len)).
func (m *mappedFile) readChunk(offset, maxSize int64) []byte {
	size := int64(len(m.data))
	if offset >= size {
		return nil
	}
	end := offset + maxSize
	if end > size {
		end = size
	}
	return m.data[offset:end]
}
