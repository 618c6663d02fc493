package meta

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

const Suffix = ".meta"

// BlockRecord mirrors one block's persisted progress.
type BlockRecord struct {
	BlockID    int   `json:"block_id"`
	RangeStart int64 `json:"range_start"`
	RangeEnd   int64 `json:"range_end"`
	Downloaded int64 `json:"downloaded"`
	Completed  bool  `json:"completed"`
}

// TaskRecord is the JSON sidecar enabling resume across restarts.
// Optional string fields may be absent in older files and decode to "".
type TaskRecord struct {
	URL          string        `json:"url"`
	FilePath     string        `json:"file_path"`
	FileName     string        `json:"file_name"`
	FileSize     int64         `json:"file_size"`
	ETag         string        `json:"etag"`
	LastModified string        `json:"last_modified"`
	MaxBlocks    int           `json:"max_blocks"`
	Blocks       []BlockRecord `json:"blocks"`
}

// PathFor returns the sidecar path for a download file path.
func PathFor(filePath string) string {
	return filePath + Suffix
}

// Save writes the record as indented JSON. The write goes through a
// temp file and a rename so a crash never leaves a torn sidecar.
func Save(metaPath string, record *TaskRecord) error {
	data, err := json.MarshalIndent(record, "", "    ")
	if err != nil {
		return fmt.Errorf("error serializing meta record: %v", err)
	}
	tmpPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("error writing meta file: %v", err)
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("error finalizing meta file: %v", err)
	}
	return nil
}

// Load reads a sidecar, returning nil on any I/O or parse problem.
func Load(metaPath string) *TaskRecord {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil
	}
	var record TaskRecord
	if err := json.Unmarshal(data, &record); err != nil {
		log.Debug().Str("op", "meta").Err(err).Msgf("malformed meta file %s", metaPath)
		return nil
	}
	return &record
}

// Remove deletes the sidecar best-effort.
func Remove(metaPath string) {
	os.Remove(metaPath)
}
