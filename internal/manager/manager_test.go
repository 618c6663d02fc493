package manager

import (
	"bytes"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/downpour/internal/meta"
	"github.com/tanq16/downpour/internal/task"
	"github.com/tanq16/downpour/internal/utils"
)

func testConfig(dir string) Config {
	return Config{
		DefaultSaveDir:     dir,
		MaxBlocksPerTask:   4,
		MaxConcurrentTasks: 3,
		WorkerPoolSize:     16,
		HTTPClientConfig:   utils.HTTPClientConfig{MaxRetries: 1},
	}
}

func payload(size int) []byte {
	data := make([]byte, size)
	rng := rand.New(rand.NewSource(7))
	rng.Read(data)
	return data
}

// rangeHandler is a minimal HEAD+Range file server.
func rangeHandler(data []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", `"m1"`)
		if r.Method == "HEAD" {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			return
		}
		start, end := int64(0), int64(len(data)-1)
		if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
			spec := strings.TrimPrefix(rangeHeader, "bytes=")
			parts := strings.SplitN(spec, "-", 2)
			start, _ = strconv.ParseInt(parts[0], 10, 64)
			if parts[1] != "" {
				end, _ = strconv.ParseInt(parts[1], 10, 64)
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
			w.WriteHeader(http.StatusPartialContent)
		}
		w.Write(data[start : end+1])
	})
}

func waitForTaskState(t *testing.T, m *Manager, id int, want task.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, info := range m.List() {
			if info.ID == id && info.State == want {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %d never reached %s", id, want)
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	dir := t.TempDir()
	m := New(testConfig(dir))
	defer m.Shutdown()
	m.Queue().SetAutoStart(false)

	id1 := m.Add("http://127.0.0.1:1/a", "", "", "")
	id2 := m.Add("http://127.0.0.1:1/b", "", "", "")
	assert.Equal(t, 1, id1)
	assert.Equal(t, 2, id2)
	assert.Len(t, m.List(), 2)
}

func TestAddDeduplicatesActiveURL(t *testing.T) {
	dir := t.TempDir()
	m := New(testConfig(dir))
	defer m.Shutdown()
	m.Queue().SetAutoStart(false)

	id1 := m.Add("http://127.0.0.1:1/same", "", "", "")
	id2 := m.Add("http://127.0.0.1:1/same", "", "", "")
	assert.Equal(t, id1, id2)
	assert.Len(t, m.List(), 1)

	// A cancelled task no longer blocks re-adding
	m.Cancel(id1)
	id3 := m.Add("http://127.0.0.1:1/same", "", "", "")
	assert.NotEqual(t, id1, id3)
}

func TestEndToEndDownload(t *testing.T) {
	data := payload(3 * 1024 * 1024)
	server := httptest.NewServer(rangeHandler(data))
	defer server.Close()

	dir := t.TempDir()
	m := New(testConfig(dir))
	defer m.Shutdown()

	id := m.Add(server.URL+"/bundle.bin", "", "", "")
	waitForTaskState(t, m, id, task.Completed, 20*time.Second)

	var info task.Info
	for _, i := range m.List() {
		if i.ID == id {
			info = i
		}
	}
	got, err := os.ReadFile(info.FilePath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestRemoveKeepsNoTrace(t *testing.T) {
	dir := t.TempDir()
	m := New(testConfig(dir))
	defer m.Shutdown()
	m.Queue().SetAutoStart(false)

	id := m.Add("http://127.0.0.1:1/gone", "", "", "")
	m.Remove(id)
	assert.Empty(t, m.List())

	// Operations on a removed id are no-ops
	m.Pause(id)
	m.Resume(id)
	m.Cancel(id)
}

func TestRecoverFromMetaFiles(t *testing.T) {
	dir := t.TempDir()

	// Simulate a crash: partial file plus sidecar on disk
	filePath := filepath.Join(dir, "crashed.bin")
	require.NoError(t, os.WriteFile(filePath, make([]byte, 1000), 0644))
	record := &meta.TaskRecord{
		URL:       "https://ex/crashed.bin",
		FilePath:  filePath,
		FileName:  "crashed.bin",
		FileSize:  1000,
		ETag:      `"r1"`,
		MaxBlocks: 4,
		Blocks: []meta.BlockRecord{
			{BlockID: 0, RangeStart: 0, RangeEnd: 499, Downloaded: 500, Completed: true},
			{BlockID: 1, RangeStart: 500, RangeEnd: 999, Downloaded: 321, Completed: false},
		},
	}
	require.NoError(t, meta.Save(meta.PathFor(filePath), record))

	m := New(testConfig(dir))
	defer m.Shutdown()

	recovered := m.Recover()
	assert.Equal(t, 1, recovered)

	infos := m.List()
	require.Len(t, infos, 1)
	assert.Equal(t, task.Paused, infos[0].State)
	assert.Equal(t, int64(821), infos[0].Progress.DownloadedBytes)
	assert.Equal(t, "https://ex/crashed.bin", infos[0].URL)
}

func TestRecoverDeletesCorruptMeta(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "junk.bin.meta")
	require.NoError(t, os.WriteFile(badPath, []byte("not json"), 0644))

	m := New(testConfig(dir))
	defer m.Shutdown()

	assert.Equal(t, 0, m.Recover())
	_, err := os.Stat(badPath)
	assert.True(t, os.IsNotExist(err))
}

func TestSetSpeedLimitPropagates(t *testing.T) {
	dir := t.TempDir()
	m := New(testConfig(dir))
	defer m.Shutdown()

	m.SetSpeedLimit(1024)
	m.SetSpeedLimit(-5) // clamps to unlimited
}

func TestUpdateConfigClampsRanges(t *testing.T) {
	dir := t.TempDir()
	m := New(testConfig(dir))
	defer m.Shutdown()

	m.UpdateConfig(Config{
		DefaultSaveDir:     dir,
		MaxBlocksPerTask:   100,
		MaxConcurrentTasks: 50,
		WorkerPoolSize:     0,
	})
	assert.Equal(t, 10, m.Queue().MaxConcurrent())
}

func TestObserverReceivesStateChanges(t *testing.T) {
	data := payload(128 * 1024)
	server := httptest.NewServer(rangeHandler(data))
	defer server.Close()

	dir := t.TempDir()
	m := New(testConfig(dir))
	defer m.Shutdown()

	states := make(chan task.State, 16)
	m.SetObserver(func(taskID int, s task.State) {
		states <- s
	})

	id := m.Add(server.URL+"/observed.bin", "", "", "")
	waitForTaskState(t, m, id, task.Completed, 15*time.Second)

	seen := map[task.State]bool{}
	for {
		select {
		case s := <-states:
			seen[s] = true
			if s == task.Completed {
				assert.True(t, seen[task.Downloading])
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("observer never saw completion")
		}
	}
}
