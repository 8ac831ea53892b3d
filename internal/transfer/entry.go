package transfer

// Direction identifies which side of the exchange initiated the session
// (spec.md §4.8 "create_session(direction, flags, base_path)").
type Direction uint8

const (
	DirectionUpload   Direction = 0
	DirectionDownload Direction = 1
)

// Flag bits carried alongside a transfer session. FlagDryRun requests a
// dry_run_report instead of moving bytes; FlagDeleteExtra asks the
// dry-run classification to report entries present in a prior manifest
// for base_path but absent from the current walk (spec.md §3 TransferSession
// flags: delete_extra, dry_run).
type Flag uint8

const (
	FlagDryRun      Flag = 0x01
	FlagDeleteExtra Flag = 0x02
)

// FileEntry is one row of a transfer's file list (spec.md §4.8 file_list /
// resumable state layouts). Directories carry zero size/mtime/hash.
type FileEntry struct {
	Path  string
	Size  uint64
	Mtime uint64
	Hash  uint64
	IsDir bool
}
