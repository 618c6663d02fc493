package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/downpour/internal/classify"
	"github.com/tanq16/downpour/internal/engine"
	"github.com/tanq16/downpour/internal/meta"
	"github.com/tanq16/downpour/internal/pool"
	"github.com/tanq16/downpour/internal/progress"
	"github.com/tanq16/downpour/internal/ratelimit"
	"github.com/tanq16/downpour/internal/utils"
)

const maxAutoRetries = 3

// Task orchestrates one download: probe, pre-allocate, split into
// blocks, aggregate progress, and drive the pause/resume/cancel
// lifecycle. It owns its blocks and their engines.
type Task struct {
	id           int
	saveDir      string
	maxBlocks    int
	pool         *pool.WorkerPool
	limiter      *ratelimit.TokenBucket
	classifier   *classify.Classifier
	onState      StateCallback
	clientConfig utils.HTTPClientConfig

	state     atomic.Int32
	autoRetry atomic.Int32

	mu           sync.Mutex
	url          string
	fileName     string
	filePath     string
	metaPath     string
	fileSize     int64
	acceptRanges bool
	etag         string
	lastModified string
	errorMessage string
	blocks       []*Block
	progress     *progress.Monitor
	initEngine   *engine.Engine
}

func New(id int, url, saveDir string, maxBlocks int, wp *pool.WorkerPool, limiter *ratelimit.TokenBucket, classifier *classify.Classifier, onState StateCallback, clientConfig utils.HTTPClientConfig) *Task {
	if maxBlocks < MinBlocks {
		maxBlocks = MinBlocks
	}
	if maxBlocks > MaxBlocks {
		maxBlocks = MaxBlocks
	}
	t := &Task{
		id:           id,
		url:          url,
		saveDir:      saveDir,
		maxBlocks:    maxBlocks,
		pool:         wp,
		limiter:      limiter,
		classifier:   classifier,
		onState:      onState,
		clientConfig: clientConfig,
	}
	t.fileName = ExtractFileName(url)
	t.filePath = filepath.Join(saveDir, t.fileName)
	t.metaPath = meta.PathFor(t.filePath)
	return t
}

// FromMeta rebuilds a task from its sidecar record. The task comes back
// Paused; the caller assigns a fresh id and the user resumes manually.
func FromMeta(metaPath string, wp *pool.WorkerPool, limiter *ratelimit.TokenBucket, classifier *classify.Classifier, onState StateCallback, clientConfig utils.HTTPClientConfig) *Task {
	record := meta.Load(metaPath)
	if record == nil {
		return nil
	}
	t := New(0, record.URL, filepath.Dir(record.FilePath), record.MaxBlocks, wp, limiter, classifier, onState, clientConfig)
	t.fileName = record.FileName
	t.filePath = record.FilePath
	t.metaPath = metaPath
	t.fileSize = record.FileSize
	t.etag = record.ETag
	t.lastModified = record.LastModified
	t.acceptRanges = true // blocks exist, so ranges were supported

	var alreadyDownloaded int64
	for _, br := range record.Blocks {
		alreadyDownloaded += br.Downloaded
		t.blocks = append(t.blocks, NewBlock(br, t.filePath, t.url, engine.New(), limiter, t.onBlockProgress))
	}
	t.progress = progress.NewMonitor(record.FileSize)
	t.progress.Add(alreadyDownloaded)

	t.state.Store(int32(Paused))
	return t
}

func (t *Task) ID() int { return t.id }

func (t *Task) SetID(id int) { t.id = id }

func (t *Task) State() State {
	return State(t.state.Load())
}

// setState stores the state and fires the callback on a real change.
// Never call with t.mu held.
func (t *Task) setState(s State) {
	old := State(t.state.Swap(int32(s)))
	if old != s && t.onState != nil {
		t.onState(t.id, s)
	}
}

func (t *Task) cas(from, to State) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

func (t *Task) setError(err error) {
	t.mu.Lock()
	t.errorMessage = err.Error()
	t.mu.Unlock()
}

// Start moves a Queued task to Downloading and submits initialization
// to the worker pool.
func (t *Task) Start() {
	if !t.cas(Queued, Downloading) {
		return
	}
	if t.onState != nil {
		t.onState(t.id, Downloading)
	}

	_, err := t.pool.Submit(func() error {
		return t.runInit()
	})
	if err != nil {
		t.setError(err)
		t.setState(Failed)
	}
}

func (t *Task) runInit() error {
	err := t.initialize()
	if err == nil {
		return nil
	}
	if t.State() != Downloading {
		return nil // paused or cancelled while initializing
	}

	log.Error().Str("op", "task").Int("task", t.id).Err(err).Msg("initialization failed")

	var httpErr *engine.HTTPError
	if errors.As(err, &httpErr) && httpErr.Retryable {
		retry := t.autoRetry.Add(1)
		if retry <= maxAutoRetries {
			log.Info().Str("op", "task").Int("task", t.id).Msgf("auto-retry %d/%d", retry, maxAutoRetries)
			t.setState(Queued)
			time.Sleep(time.Duration(2*retry) * time.Second)
			t.Start()
			return nil
		}
	}
	t.setError(err)
	t.setState(Failed)
	return err
}

// initialize performs the HEAD probe, resolves the filename, allocates
// the destination, splits blocks, persists the sidecar, and submits the
// blocks.
func (t *Task) initialize() error {
	eng := engine.New()
	t.mu.Lock()
	t.initEngine = eng
	url := t.url
	t.mu.Unlock()

	log.Info().Str("op", "task").Int("task", t.id).Msgf("fetching file info: %s", url)
	info, err := eng.FetchInfo(url, t.clientConfig)
	if err != nil {
		return err
	}
	log.Debug().Str("op", "task").Int("task", t.id).
		Int64("size", info.ContentLength).Bool("ranges", info.AcceptRanges).
		Msgf("HEAD result: type=%s final_url=%s", info.ContentType, info.FinalURL)

	t.mu.Lock()
	t.fileSize = info.ContentLength
	t.acceptRanges = info.AcceptRanges
	t.etag = info.ETag
	t.lastModified = info.LastModified
	if info.FinalURL != "" {
		t.url = info.FinalURL
	}
	t.resolveFileNameLocked(info)
	if t.fileSize <= 0 {
		// Unknown size: stream to EOF on a single connection.
		t.acceptRanges = false
		t.fileSize = 0
	}
	t.mu.Unlock()

	if err := t.allocateFile(); err != nil {
		return err
	}

	t.mu.Lock()
	t.progress = progress.NewMonitor(t.fileSize)
	t.mu.Unlock()

	if err := t.createBlocks(); err != nil {
		return err
	}
	t.SaveMeta()
	return t.submitBlocks()
}

// resolveFileNameLocked applies the name priority chain and conflict
// suffixing; t.mu must be held.
func (t *Task) resolveFileNameLocked(info *engine.FileInfo) {
	if info.ContentDisposition != "" {
		if name := ParseContentDisposition(info.ContentDisposition); name != "" {
			t.fileName = name
		}
	}
	if t.fileName == "" || t.fileName == "download" {
		if name := ExtractFileName(t.url); name != "" {
			t.fileName = name
		}
	}
	t.fileName = ResolveConflict(t.saveDir, t.fileName)
	t.filePath = filepath.Join(t.saveDir, t.fileName)
	t.metaPath = meta.PathFor(t.filePath)
}

// allocateFile creates the destination at its final size so blocks can
// write at any offset in their range.
func (t *Task) allocateFile() error {
	t.mu.Lock()
	filePath := t.filePath
	fileSize := t.fileSize
	t.mu.Unlock()

	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory %s: %v", dir, err)
		}
	}
	if fileSize <= 0 {
		return nil // unknown size, the block creates (or truncates) the file and writes it from byte 0
	}
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error creating file %s: %v", filePath, err)
	}
	defer file.Close()
	if err := file.Truncate(fileSize); err != nil {
		return fmt.Errorf("error pre-allocating %s to %d bytes: %v", filePath, fileSize, err)
	}
	return nil
}

func (t *Task) createBlocks() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var records []meta.BlockRecord
	if t.fileSize > 0 {
		var err error
		records, err = SplitBlocks(t.fileSize, t.maxBlocks, t.acceptRanges)
		if err != nil {
			return err
		}
	} else {
		// Unknown size: sentinel block, fetch everything.
		records = []meta.BlockRecord{{BlockID: 0, RangeStart: -1, RangeEnd: -1}}
	}

	t.blocks = t.blocks[:0]
	for _, br := range records {
		t.blocks = append(t.blocks, NewBlock(br, t.filePath, t.url, engine.New(), t.limiter, t.onBlockProgress))
	}
	return nil
}

// submitBlocks queues every incomplete block on the worker pool.
func (t *Task) submitBlocks() error {
	if t.State() != Downloading {
		return nil // paused or cancelled while initializing
	}
	t.mu.Lock()
	blocks := make([]*Block, len(t.blocks))
	copy(blocks, t.blocks)
	cfg := t.clientConfig
	t.mu.Unlock()

	for _, blk := range blocks {
		if blk.Info().Completed {
			continue
		}
		b := blk
		_, err := t.pool.Submit(func() error {
			err := b.Execute(cfg)
			if err != nil {
				t.onBlockError(b, err)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("error submitting block %d: %v", blk.Info().BlockID, err)
		}
	}
	return nil
}

// onBlockError handles a fatal block failure. Pause and cancel produce
// engine errors too; those are not failures of the task.
func (t *Task) onBlockError(b *Block, err error) {
	if b.paused.Load() || t.State() != Downloading {
		return
	}
	log.Error().Str("op", "task").Int("task", t.id).Int("block", b.Info().BlockID).Err(err).Msg("block failed")
	if !t.cas(Downloading, Failed) {
		return
	}
	t.setError(err)
	t.mu.Lock()
	blocks := make([]*Block, len(t.blocks))
	copy(blocks, t.blocks)
	t.mu.Unlock()
	for _, blk := range blocks {
		blk.Pause()
	}
	t.SaveMeta()
	if t.onState != nil {
		t.onState(t.id, Failed)
	}
}

// onBlockProgress aggregates per-block deltas and detects completion.
func (t *Task) onBlockProgress(blockID int, delta int64) {
	if t.State() == Cancelled {
		return
	}

	t.mu.Lock()
	if t.progress != nil {
		t.progress.Add(delta)
	}
	allDone := len(t.blocks) > 0
	for _, blk := range t.blocks {
		if !blk.Info().Completed {
			allDone = false
			break
		}
	}
	t.mu.Unlock()

	if allDone && t.State() == Downloading {
		t.checkCompletion()
	}
}

// checkCompletion verifies the on-disk size, hands the file to the
// classifier, removes the sidecar, and transitions to Completed.
func (t *Task) checkCompletion() {
	t.mu.Lock()
	filePath := t.filePath
	fileSize := t.fileSize
	metaPath := t.metaPath
	t.mu.Unlock()

	if fileSize > 0 {
		stat, err := os.Stat(filePath)
		if err != nil || stat.Size() != fileSize {
			if err == nil {
				err = fmt.Errorf("size mismatch: expected %d, got %d", fileSize, stat.Size())
			}
			log.Error().Str("op", "task").Int("task", t.id).Err(err).Msg("completion verification failed")
			t.setError(err)
			t.setState(Failed)
			return
		}
	}

	// Move into the category directory; failure does not un-complete.
	if t.classifier != nil {
		if dest, err := t.classifier.MoveToCategory(filePath, t.saveDir); err == nil {
			t.mu.Lock()
			t.filePath = dest
			t.mu.Unlock()
		} else {
			log.Warn().Str("op", "task").Int("task", t.id).Err(err).Msg("classification move failed")
		}
	}

	meta.Remove(metaPath)
	log.Info().Str("op", "task").Int("task", t.id).Msgf("download completed: %s", filePath)
	t.setState(Completed)
}

// Pause stops a Downloading task. Blocks stay allocated because pool
// workers may still hold references to them.
func (t *Task) Pause() {
	if !t.cas(Downloading, Paused) {
		return
	}

	t.mu.Lock()
	if t.initEngine != nil {
		t.initEngine.Cancel()
	}
	blocks := make([]*Block, len(t.blocks))
	copy(blocks, t.blocks)
	t.mu.Unlock()

	for _, blk := range blocks {
		blk.Pause()
	}
	t.SaveMeta()
	if t.onState != nil {
		t.onState(t.id, Paused)
	}
}

// Resume restarts a Paused or Failed task, re-validating the server
// resource before reusing stored progress.
func (t *Task) Resume() {
	if !t.cas(Paused, Downloading) && !t.cas(Failed, Downloading) {
		return
	}
	if t.onState != nil {
		t.onState(t.id, Downloading)
	}

	_, err := t.pool.Submit(func() error {
		return t.runResume()
	})
	if err != nil {
		t.setError(err)
		t.setState(Failed)
	}
}

func (t *Task) runResume() error {
	err := t.resume()
	if err == nil {
		return nil
	}
	if t.State() != Downloading {
		return nil
	}
	log.Error().Str("op", "task").Int("task", t.id).Err(err).Msg("resume failed")
	t.setError(err)
	t.setState(Failed)
	return err
}

func (t *Task) resume() error {
	eng := engine.New()
	t.mu.Lock()
	t.initEngine = eng
	url := t.url
	storedETag := t.etag
	storedLastModified := t.lastModified
	metaPath := t.metaPath
	t.mu.Unlock()

	info, err := eng.FetchInfo(url, t.clientConfig)
	if err != nil {
		return err
	}

	serverChanged := false
	if storedETag != "" && info.ETag != "" && storedETag != info.ETag {
		serverChanged = true
	}
	if storedLastModified != "" && info.LastModified != "" && storedLastModified != info.LastModified {
		serverChanged = true
	}

	if serverChanged {
		log.Warn().Str("op", "task").Int("task", t.id).Msg("server resource changed, restarting from scratch")
		t.mu.Lock()
		t.blocks = nil
		t.fileSize = info.ContentLength
		t.acceptRanges = info.AcceptRanges
		t.etag = info.ETag
		t.lastModified = info.LastModified
		if t.fileSize <= 0 {
			t.acceptRanges = false
			t.fileSize = 0
		}
		t.mu.Unlock()

		// Re-allocate so no stale bytes survive the restart.
		if err := t.allocateFile(); err != nil {
			return err
		}
		t.mu.Lock()
		t.progress = progress.NewMonitor(t.fileSize)
		t.mu.Unlock()
		if err := t.createBlocks(); err != nil {
			return err
		}
		t.SaveMeta()
		return t.submitBlocks()
	}

	record := meta.Load(metaPath)
	if record == nil {
		// Sidecar lost: start over as if fresh.
		return t.initialize()
	}

	t.mu.Lock()
	t.blocks = t.blocks[:0]
	var alreadyDownloaded int64
	for _, br := range record.Blocks {
		alreadyDownloaded += br.Downloaded
		t.blocks = append(t.blocks, NewBlock(br, t.filePath, t.url, engine.New(), t.limiter, t.onBlockProgress))
	}
	t.progress = progress.NewMonitor(t.fileSize)
	t.progress.Add(alreadyDownloaded)
	t.mu.Unlock()

	return t.submitBlocks()
}

// Cancel is terminal: it stops all blocks and removes the file and its
// sidecar. Block objects stay alive until the task is dropped so
// outstanding workers never see freed state.
func (t *Task) Cancel() {
	current := t.State()
	if current == Completed || current == Cancelled {
		return
	}
	t.state.Store(int32(Cancelled))

	t.mu.Lock()
	if t.initEngine != nil {
		t.initEngine.Cancel()
	}
	blocks := make([]*Block, len(t.blocks))
	copy(blocks, t.blocks)
	filePath := t.filePath
	metaPath := t.metaPath
	t.mu.Unlock()

	for _, blk := range blocks {
		blk.Pause()
	}

	os.Remove(filePath)
	meta.Remove(metaPath)

	if t.onState != nil {
		t.onState(t.id, Cancelled)
	}
}

// SaveMeta persists the current block table to the sidecar.
func (t *Task) SaveMeta() {
	t.mu.Lock()
	record := &meta.TaskRecord{
		URL:          t.url,
		FilePath:     t.filePath,
		FileName:     t.fileName,
		FileSize:     t.fileSize,
		ETag:         t.etag,
		LastModified: t.lastModified,
		MaxBlocks:    t.maxBlocks,
	}
	for _, blk := range t.blocks {
		record.Blocks = append(record.Blocks, blk.Info())
	}
	metaPath := t.metaPath
	t.mu.Unlock()

	if err := meta.Save(metaPath, record); err != nil {
		log.Warn().Str("op", "task").Int("task", t.id).Err(err).Msg("meta save failed")
	}
}

// Info returns a snapshot for front-ends.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := Info{
		ID:           t.id,
		URL:          t.url,
		FilePath:     t.filePath,
		FileName:     t.fileName,
		FileSize:     t.fileSize,
		State:        t.State(),
		ErrorMessage: t.errorMessage,
	}
	if t.progress != nil {
		info.Progress = t.progress.Snapshot()
	}
	return info
}
