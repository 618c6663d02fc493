package manager

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/downpour/internal/classify"
	"github.com/tanq16/downpour/internal/meta"
	"github.com/tanq16/downpour/internal/pool"
	"github.com/tanq16/downpour/internal/queue"
	"github.com/tanq16/downpour/internal/ratelimit"
	"github.com/tanq16/downpour/internal/task"
	"github.com/tanq16/downpour/internal/utils"
)

// Config carries the manager-level tunables. Out-of-range values are
// clamped at construction and on update.
type Config struct {
	DefaultSaveDir      string
	MaxBlocksPerTask    int
	MaxConcurrentTasks  int
	WorkerPoolSize      int
	SpeedLimit          int64 // bytes/s, 0 = unlimited
	ClassificationRules map[string][]string
	HTTPClientConfig    utils.HTTPClientConfig
}

func (c *Config) clamp() {
	if c.MaxBlocksPerTask < task.MinBlocks {
		c.MaxBlocksPerTask = task.MinBlocks
	}
	if c.MaxBlocksPerTask > task.MaxBlocks {
		c.MaxBlocksPerTask = task.MaxBlocks
	}
	if c.MaxConcurrentTasks < queue.MinConcurrent {
		c.MaxConcurrentTasks = queue.MinConcurrent
	}
	if c.MaxConcurrentTasks > queue.MaxConcurrent {
		c.MaxConcurrentTasks = queue.MaxConcurrent
	}
	if c.WorkerPoolSize < 1 {
		c.WorkerPoolSize = pool.DefaultWorkers
	}
	if c.SpeedLimit < 0 {
		c.SpeedLimit = 0
	}
}

// StateObserver receives task state changes for a front-end.
type StateObserver func(taskID int, state task.State)

// Manager is the facade owning the worker pool, the global rate
// limiter, the classifier, and the task queue.
type Manager struct {
	mu         sync.Mutex
	config     Config
	pool       *pool.WorkerPool
	limiter    *ratelimit.TokenBucket
	classifier *classify.Classifier
	queue      *queue.TaskQueue
	tasksByID  map[int]*task.Task
	nextTaskID int
	observer   StateObserver
}

func New(config Config) *Manager {
	config.clamp()
	if config.DefaultSaveDir != "" {
		if err := os.MkdirAll(config.DefaultSaveDir, 0755); err != nil {
			log.Warn().Str("op", "manager").Err(err).Msgf("could not create save dir %s", config.DefaultSaveDir)
		}
	}
	return &Manager{
		config:     config,
		pool:       pool.NewWorkerPool(config.WorkerPoolSize),
		limiter:    ratelimit.NewTokenBucket(config.SpeedLimit),
		classifier: classify.NewClassifier(config.ClassificationRules),
		queue:      queue.NewTaskQueue(config.MaxConcurrentTasks),
		tasksByID:  make(map[int]*task.Task),
		nextTaskID: 1,
	}
}

// SetObserver registers the front-end callback for state changes.
func (m *Manager) SetObserver(observer StateObserver) {
	m.mu.Lock()
	m.observer = observer
	m.mu.Unlock()
}

// Add registers a download. Adding a URL that an existing non-terminal
// task already covers returns that task's id.
func (m *Manager) Add(url, saveDir, referer, cookie string) int {
	m.mu.Lock()
	dir := saveDir
	if dir == "" {
		dir = m.config.DefaultSaveDir
	}
	for id, t := range m.tasksByID {
		info := t.Info()
		if info.URL == url && info.State != task.Completed && info.State != task.Cancelled && info.State != task.Failed {
			m.mu.Unlock()
			return id
		}
	}
	taskID := m.nextTaskID
	m.nextTaskID++
	clientConfig := m.config.HTTPClientConfig
	maxBlocks := m.config.MaxBlocksPerTask
	m.mu.Unlock()

	clientConfig.Referer = referer
	clientConfig.Cookie = cookie

	t := task.New(taskID, url, dir, maxBlocks, m.pool, m.limiter, m.classifier, m.onTaskStateChange, clientConfig)

	m.mu.Lock()
	m.tasksByID[taskID] = t
	m.mu.Unlock()

	m.queue.Add(t)
	log.Info().Str("op", "manager").Int("task", taskID).Msgf("added download: %s", url)
	return taskID
}

func (m *Manager) Pause(taskID int) {
	if t := m.find(taskID); t != nil {
		t.Pause()
	}
}

func (m *Manager) Resume(taskID int) {
	if t := m.find(taskID); t != nil {
		t.Resume()
	}
}

func (m *Manager) Cancel(taskID int) {
	if t := m.find(taskID); t != nil {
		t.Cancel()
	}
}

// Remove cancels the task and drops it. The local reference keeps the
// task alive until after queue removal so pool workers observe the
// cancellation before anything is reclaimed.
func (m *Manager) Remove(taskID int) {
	m.queue.Remove(taskID)

	m.mu.Lock()
	keptAlive := m.tasksByID[taskID]
	delete(m.tasksByID, taskID)
	m.mu.Unlock()

	if keptAlive != nil {
		keptAlive.Cancel()
	}
}

func (m *Manager) MoveUp(taskID int) bool {
	return m.queue.MoveUp(taskID)
}

func (m *Manager) MoveDown(taskID int) bool {
	return m.queue.MoveDown(taskID)
}

// SetSpeedLimit applies a new global cap; 0 disables shaping.
func (m *Manager) SetSpeedLimit(bytesPerSec int64) {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	m.limiter.SetRate(bytesPerSec)
	m.mu.Lock()
	m.config.SpeedLimit = bytesPerSec
	m.mu.Unlock()
}

// List snapshots all tasks in queue order.
func (m *Manager) List() []task.Info {
	return m.queue.AllTaskInfo()
}

// Recover scans the default save directory for .meta sidecars and
// enqueues each loadable one as a Paused task with a fresh id.
// Corrupt sidecars are deleted.
func (m *Manager) Recover() int {
	m.mu.Lock()
	saveDir := m.config.DefaultSaveDir
	clientConfig := m.config.HTTPClientConfig
	m.mu.Unlock()
	if saveDir == "" {
		return 0
	}
	entries, err := os.ReadDir(saveDir)
	if err != nil {
		return 0
	}

	recovered := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), meta.Suffix) {
			continue
		}
		metaPath := filepath.Join(saveDir, entry.Name())
		t := task.FromMeta(metaPath, m.pool, m.limiter, m.classifier, m.onTaskStateChange, clientConfig)
		if t == nil {
			log.Warn().Str("op", "manager").Msgf("removing corrupt meta file %s", metaPath)
			meta.Remove(metaPath)
			continue
		}

		m.mu.Lock()
		taskID := m.nextTaskID
		m.nextTaskID++
		t.SetID(taskID)
		m.tasksByID[taskID] = t
		m.mu.Unlock()

		m.queue.Add(t)
		recovered++
		log.Info().Str("op", "manager").Int("task", taskID).Msgf("recovered download: %s", t.Info().URL)
	}
	return recovered
}

// UpdateConfig applies new settings to the live components.
func (m *Manager) UpdateConfig(config Config) {
	config.clamp()

	m.mu.Lock()
	m.config.DefaultSaveDir = config.DefaultSaveDir
	m.config.MaxBlocksPerTask = config.MaxBlocksPerTask
	m.config.MaxConcurrentTasks = config.MaxConcurrentTasks
	m.mu.Unlock()

	m.SetSpeedLimit(config.SpeedLimit)
	m.queue.SetMaxConcurrent(config.MaxConcurrentTasks)
	if len(config.ClassificationRules) > 0 {
		m.classifier.UpdateRules(config.ClassificationRules)
	}
}

// Queue exposes the task queue (tests toggle auto-start through it).
func (m *Manager) Queue() *queue.TaskQueue {
	return m.queue
}

// Shutdown pauses in-flight tasks, wakes every blocked acquirer, and
// drains the pool. Pausing first keeps limiter aborts from reading as
// task failures.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	tasks := make([]*task.Task, 0, len(m.tasksByID))
	for _, t := range m.tasksByID {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()
	for _, t := range tasks {
		if t.State() == task.Downloading {
			t.Pause()
		}
	}
	m.limiter.Cancel()
	m.pool.Shutdown()
}

func (m *Manager) onTaskStateChange(taskID int, state task.State) {
	if state.Terminal() {
		m.queue.OnTaskFinished(taskID)
	}
	m.mu.Lock()
	observer := m.observer
	m.mu.Unlock()
	if observer != nil {
		observer(taskID, state)
	}
}

func (m *Manager) find(taskID int) *task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasksByID[taskID]
}
