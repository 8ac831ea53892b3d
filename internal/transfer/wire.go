// Wire message encode/decode for the file-transfer engine (spec.md §4.8).
// All numeric fields are little-endian.
package transfer

import "encoding/binary"

const (
	TagTransferInit    byte = 0x20
	TagFileListRequest byte = 0x21
	TagFileData        byte = 0x22
	TagTransferResume  byte = 0x23
	TagTransferCancel  byte = 0x24

	TagTransferReady byte = 0x30
	TagFileList      byte = 0x31
	TagFileChunk     byte = 0x32
	TagFileAck       byte = 0x33
	TagTransferDone  byte = 0x34
	TagTransferError byte = 0x35
	TagDryRunReport  byte = 0x36
)

// InitRequest is the decoded body of transfer_init (0x20).
type InitRequest struct {
	Direction Direction
	Flags     Flag
	Excludes  []string
	Path      string
}

// ParseTransferInit decodes
// [direction:u8][flags:u8][exclude_count:u8][path_len:u16][path] then
// exclude_count × [len:u8][pattern].
func ParseTransferInit(msg []byte) (InitRequest, error) {
	if len(msg) < 5 {
		return InitRequest{}, ErrShortMessage
	}
	req := InitRequest{
		Direction: Direction(msg[0]),
		Flags:     Flag(msg[1]),
	}
	excludeCount := int(msg[2])
	pathLen := int(binary.LittleEndian.Uint16(msg[3:5]))
	off := 5
	if len(msg) < off+pathLen {
		return InitRequest{}, ErrShortMessage
	}
	req.Path = string(msg[off : off+pathLen])
	off += pathLen

	for i := 0; i < excludeCount; i++ {
		if off+1 > len(msg) {
			return InitRequest{}, ErrShortMessage
		}
		n := int(msg[off])
		off++
		if off+n > len(msg) {
			return InitRequest{}, ErrShortMessage
		}
		req.Excludes = append(req.Excludes, string(msg[off:off+n]))
		off += n
	}
	return req, nil
}

// ChunkUpload is the decoded body shared by file_data (0x22).
type ChunkUpload struct {
	SessionID        uint32
	FileIndex        uint32
	Offset           uint64
	UncompressedSize uint32
	Data             []byte // zstd-compressed; UncompressedSize is the decoded length
}

// ParseFileData decodes
// [id:u32][file_index:u32][offset:u64][uncompressed_size:u32][zstd bytes].
func ParseFileData(msg []byte) (ChunkUpload, error) {
	if len(msg) < 20 {
		return ChunkUpload{}, ErrShortMessage
	}
	return ChunkUpload{
		SessionID:        binary.LittleEndian.Uint32(msg[0:4]),
		FileIndex:        binary.LittleEndian.Uint32(msg[4:8]),
		Offset:           binary.LittleEndian.Uint64(msg[8:16]),
		UncompressedSize: binary.LittleEndian.Uint32(msg[16:20]),
		Data:             msg[20:],
	}, nil
}

// ParseFileListRequest decodes file_list_request (0x21): [id:u32].
func ParseFileListRequest(msg []byte) (uint32, error) {
	if len(msg) < 4 {
		return 0, ErrShortMessage
	}
	return binary.LittleEndian.Uint32(msg[0:4]), nil
}

// ParseTransferResume decodes transfer_resume (0x23): [id:u32].
func ParseTransferResume(msg []byte) (uint32, error) {
	if len(msg) < 4 {
		return 0, ErrShortMessage
	}
	return binary.LittleEndian.Uint32(msg[0:4]), nil
}

// ParseTransferCancel decodes transfer_cancel (0x24): [id:u32].
func ParseTransferCancel(msg []byte) (uint32, error) {
	if len(msg) < 4 {
		return 0, ErrShortMessage
	}
	return binary.LittleEndian.Uint32(msg[0:4]), nil
}

// EncodeTransferReady builds [0x30][transfer_id:u32].
func EncodeTransferReady(id uint32) []byte {
	out := make([]byte, 5)
	out[0] = TagTransferReady
	binary.LittleEndian.PutUint32(out[1:5], id)
	return out
}

// EncodeFileList builds
// [0x31][id:u32][count:u32][total_bytes:u64] then count entries
// [path_len:u16][path][size:u64][mtime:u64][hash:u64][is_dir:u8].
func EncodeFileList(id uint32, entries []FileEntry, totalBytes uint64) []byte {
	size := 1 + 4 + 4 + 8
	for _, e := range entries {
		size += 2 + len(e.Path) + 8 + 8 + 8 + 1
	}
	out := make([]byte, size)
	out[0] = TagFileList
	binary.LittleEndian.PutUint32(out[1:5], id)
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(entries)))
	binary.LittleEndian.PutUint64(out[9:17], totalBytes)

	off := 17
	for _, e := range entries {
		binary.LittleEndian.PutUint16(out[off:off+2], uint16(len(e.Path)))
		off += 2
		off += copy(out[off:], e.Path)
		binary.LittleEndian.PutUint64(out[off:off+8], e.Size)
		off += 8
		binary.LittleEndian.PutUint64(out[off:off+8], e.Mtime)
		off += 8
		binary.LittleEndian.PutUint64(out[off:off+8], e.Hash)
		off += 8
		if e.IsDir {
			out[off] = 1
		}
		off++
	}
	return out
}

// EncodeFileChunk builds
// [0x32][id:u32][file_index:u32][offset:u64][uncompressed_size:u32][zstd bytes...].
func EncodeFileChunk(id, fileIndex uint32, offset uint64, uncompressedSize uint32, compressed []byte) []byte {
	out := make([]byte, 1+4+4+8+4+len(compressed))
	out[0] = TagFileChunk
	binary.LittleEndian.PutUint32(out[1:5], id)
	binary.LittleEndian.PutUint32(out[5:9], fileIndex)
	binary.LittleEndian.PutUint64(out[9:17], offset)
	binary.LittleEndian.PutUint32(out[17:21], uncompressedSize)
	copy(out[21:], compressed)
	return out
}

// EncodeFileAck builds [0x33][id:u32][file_index:u32][bytes_received:u64].
func EncodeFileAck(id, fileIndex uint32, bytesReceived uint64) []byte {
	out := make([]byte, 17)
	out[0] = TagFileAck
	binary.LittleEndian.PutUint32(out[1:5], id)
	binary.LittleEndian.PutUint32(out[5:9], fileIndex)
	binary.LittleEndian.PutUint64(out[9:17], bytesReceived)
	return out
}

// EncodeTransferComplete builds [0x34][id:u32][total_bytes:u64].
func EncodeTransferComplete(id uint32, totalBytes uint64) []byte {
	out := make([]byte, 13)
	out[0] = TagTransferDone
	binary.LittleEndian.PutUint32(out[1:5], id)
	binary.LittleEndian.PutUint64(out[5:13], totalBytes)
	return out
}

// EncodeTransferError builds [0x35][id:u32][msg_len:u16][msg].
func EncodeTransferError(id uint32, msg string) []byte {
	out := make([]byte, 1+4+2+len(msg))
	out[0] = TagTransferError
	binary.LittleEndian.PutUint32(out[1:5], id)
	binary.LittleEndian.PutUint16(out[5:7], uint16(len(msg)))
	copy(out[7:], msg)
	return out
}

// DryRunAction tags one row of a dry_run_report.
type DryRunAction byte

const (
	DryRunNew    DryRunAction = 0
	DryRunUpdate DryRunAction = 1
	DryRunDelete DryRunAction = 2
)

// DryRunRow is one [action:u8][path_len:u16][path][size:u64] entry.
type DryRunRow struct {
	Action DryRunAction
	Path   string
	Size   uint64
}

// EncodeDryRunReport builds
// [0x36][id:u32][new:u32][update:u32][delete:u32] then
// [action:u8][path_len:u16][path][size:u64] per row.
func EncodeDryRunReport(id uint32, newCount, updateCount, deleteCount uint32, rows []DryRunRow) []byte {
	size := 1 + 4 + 4 + 4 + 4
	for _, r := range rows {
		size += 1 + 2 + len(r.Path) + 8
	}
	out := make([]byte, size)
	out[0] = TagDryRunReport
	binary.LittleEndian.PutUint32(out[1:5], id)
	binary.LittleEndian.PutUint32(out[5:9], newCount)
	binary.LittleEndian.PutUint32(out[9:13], updateCount)
	binary.LittleEndian.PutUint32(out[13:17], deleteCount)

	off := 17
	for _, r := range rows {
		out[off] = byte(r.Action)
		off++
		binary.LittleEndian.PutUint16(out[off:off+2], uint16(len(r.Path)))
		off += 2
		off += copy(out[off:], r.Path)
		binary.LittleEndian.PutUint64(out[off:off+8], r.Size)
		off += 8
	}
	return out
}
