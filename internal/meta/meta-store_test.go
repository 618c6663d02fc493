package meta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *TaskRecord {
	return &TaskRecord{
		URL:          "https://ex/f.zip",
		FilePath:     "/downloads/f.zip",
		FileName:     "f.zip",
		FileSize:     104857600,
		ETag:         `"abc123"`,
		LastModified: "Wed, 21 Oct 2015 07:28:00 GMT",
		MaxBlocks:    8,
		Blocks: []BlockRecord{
			{BlockID: 0, RangeStart: 0, RangeEnd: 13107199, Downloaded: 13107200, Completed: true},
			{BlockID: 1, RangeStart: 13107200, RangeEnd: 26214399, Downloaded: 5242880, Completed: false},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "f.zip.meta")

	record := sampleRecord()
	require.NoError(t, Save(metaPath, record))

	loaded := Load(metaPath)
	require.NotNil(t, loaded)
	assert.Equal(t, record, loaded)
}

func TestSaveWritesIndentedJSONWithSchemaFields(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "x.meta")
	require.NoError(t, Save(metaPath, sampleRecord()))

	data, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"url\"")

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"url", "file_path", "file_name", "file_size", "etag", "last_modified", "max_blocks", "blocks"} {
		assert.Contains(t, raw, key)
	}
	blocks := raw["blocks"].([]any)
	block := blocks[0].(map[string]any)
	for _, key := range []string{"block_id", "range_start", "range_end", "downloaded", "completed"} {
		assert.Contains(t, block, key)
	}
}

func TestLoadMissingFile(t *testing.T) {
	assert.Nil(t, Load(filepath.Join(t.TempDir(), "nope.meta")))
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "bad.meta")
	require.NoError(t, os.WriteFile(metaPath, []byte("{not json"), 0644))
	assert.Nil(t, Load(metaPath))
}

func TestLoadToleratesAbsentOptionalFields(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "old.meta")
	minimal := `{"url": "https://ex/a.bin", "file_path": "/d/a.bin", "file_size": 10, "max_blocks": 4, "blocks": []}`
	require.NoError(t, os.WriteFile(metaPath, []byte(minimal), 0644))

	record := Load(metaPath)
	require.NotNil(t, record)
	assert.Empty(t, record.ETag)
	assert.Empty(t, record.LastModified)
	assert.Empty(t, record.FileName)
	assert.Equal(t, int64(10), record.FileSize)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "r.meta")
	require.NoError(t, Save(metaPath, sampleRecord()))

	Remove(metaPath)
	_, err := os.Stat(metaPath)
	assert.True(t, os.IsNotExist(err))

	// Removing a missing file is a no-op
	Remove(metaPath)
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, "/d/a.bin.meta", PathFor("/d/a.bin"))
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "t.meta")
	require.NoError(t, Save(metaPath, sampleRecord()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t.meta", entries[0].Name())
}
