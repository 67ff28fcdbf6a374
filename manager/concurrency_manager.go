package manager

import (
	"context"
	"sync"
	"time"

	"querybridge/logging"
)

var log = logging.GetLogger()

const defaultKey = "default"

// ProgramMetrics holds the queue and processing counts for one program.
type ProgramMetrics struct {
	Program                string
	QueueSize              int
	ProcessingCount        int
	LastLogTime            time.Time
	queueSizeChanged       bool
	processingCountChanged bool
	mu                     sync.Mutex
}

// Stats is a point-in-time copy of ProgramMetrics.
type Stats struct {
	Queued     int
	Processing int
}

// ConcurrencyManager bounds how many child processes run at once for each program.
// A limit of zero means unbounded.
type ConcurrencyManager struct {
	semMap      map[string]chan struct{}
	metricsMap  map[string]*ProgramMetrics
	mu          sync.Mutex
	defaultSize int
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewConcurrencyManager initializes a ConcurrencyManager with per-program limits and a
// default limit for programs not listed.
func NewConcurrencyManager(limits map[string]int, defaultSize int) *ConcurrencyManager {
	cm := &ConcurrencyManager{
		semMap:      make(map[string]chan struct{}),
		metricsMap:  make(map[string]*ProgramMetrics),
		defaultSize: defaultSize,
		stop:        make(chan struct{}),
	}

	for name, size := range limits {
		if size < 0 {
			log.Warnf("Program '%s' has invalid limit %d. Treating it as unbounded.", name, size)
			size = 0
		}
		cm.semMap[name] = newSemaphore(size)
		cm.metricsMap[name] = &ProgramMetrics{Program: name}
	}

	if _, ok := cm.metricsMap[defaultKey]; !ok {
		cm.semMap[defaultKey] = newSemaphore(cm.defaultSize)
		cm.metricsMap[defaultKey] = &ProgramMetrics{Program: defaultKey}
	}

	for _, metrics := range cm.metricsMap {
		cm.wg.Add(1)
		go cm.monitorMetrics(metrics)
	}

	return cm
}

func newSemaphore(size int) chan struct{} {
	if size <= 0 {
		return nil
	}
	return make(chan struct{}, size)
}

func (cm *ConcurrencyManager) lookup(program string) (chan struct{}, *ProgramMetrics) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	metrics, exists := cm.metricsMap[program]
	if !exists {
		program = defaultKey
		metrics = cm.metricsMap[program]
	}
	return cm.semMap[program], metrics
}

// Acquire waits for a slot for the given program. The returned release func must be called
// once the child process has exited. Acquire only fails when ctx is done first.
func (cm *ConcurrencyManager) Acquire(ctx context.Context, program string) (func(), error) {
	sem, metrics := cm.lookup(program)

	metrics.incrementQueue()

	if sem == nil {
		metrics.incrementProcessing()
		metrics.decrementQueue()

		var once sync.Once
		return func() { once.Do(metrics.decrementProcessing) }, nil
	}

	select {
	case sem <- struct{}{}:
		metrics.incrementProcessing()
		metrics.decrementQueue()

		var once sync.Once
		return func() {
			once.Do(func() {
				metrics.decrementProcessing()
				<-sem
			})
		}, nil
	case <-ctx.Done():
		metrics.decrementQueue()
		return nil, ctx.Err()
	}
}

// Stats returns the current counts for program, falling back to the default bucket.
func (cm *ConcurrencyManager) Stats(program string) Stats {
	_, metrics := cm.lookup(program)
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	return Stats{Queued: metrics.QueueSize, Processing: metrics.ProcessingCount}
}

// monitorMetrics logs changes in the metrics at most once per second.
func (cm *ConcurrencyManager) monitorMetrics(metrics *ProgramMetrics) {
	defer cm.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond) // Check twice every second
	defer ticker.Stop()

	for {
		select {
		case <-cm.stop:
			return
		case currentTime := <-ticker.C:
			metrics.mu.Lock()
			if (metrics.queueSizeChanged || metrics.processingCountChanged) &&
				currentTime.Sub(metrics.LastLogTime) >= time.Second {
				log.Debugf("Program: %s | Queued: %d | Processing: %d",
					metrics.Program, metrics.QueueSize, metrics.ProcessingCount)
				metrics.LastLogTime = currentTime
				metrics.resetChangeFlags()
			}
			metrics.mu.Unlock()
		}
	}
}

// Methods for ProgramMetrics

func (m *ProgramMetrics) incrementQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueueSize++
	m.queueSizeChanged = true
}

func (m *ProgramMetrics) decrementQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueueSize > 0 {
		m.QueueSize--
		m.queueSizeChanged = true
	}
}

func (m *ProgramMetrics) incrementProcessing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessingCount++
	m.processingCountChanged = true
}

func (m *ProgramMetrics) decrementProcessing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ProcessingCount > 0 {
		m.ProcessingCount--
		m.processingCountChanged = true
	}
}

func (m *ProgramMetrics) resetChangeFlags() {
	m.queueSizeChanged = false
	m.processingCountChanged = false
}

// Shutdown stops the monitor goroutines. Slots already handed out stay valid.
func (cm *ConcurrencyManager) Shutdown() {
	cm.stopOnce.Do(func() {
		close(cm.stop)
	})
	cm.wg.Wait()
}
