package job

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CBrophy/omicron/internal/task"
)

const taskLogCapacity = 500

var globalEntryID atomic.Int64

// TaskLogEntry is one observed status transition for a Job's
// RunningTasks: {entryId (global monotonic), timestamp, taskId, status}
// per spec §3. Ordering is by (timestamp, entryId) ascending; equality is
// by entryId.
type TaskLogEntry struct {
	EntryID   int64
	Timestamp time.Time
	TaskID    int
	Status    task.Status
}

// ticketLock is a strict FIFO mutex, matching the fairness guarantee of
// the original implementation's ReentrantLock(true). Go's sync.Mutex
// documents only best-effort (not guaranteed FIFO) fairness, so the
// bounded task log — which readers and the sweep both contend on — uses
// this small hand-rolled ticket queue instead.
type ticketLock struct {
	mu       sync.Mutex
	cond     *sync.Cond
	next     uint64
	serving  uint64
	initOnce sync.Once
}

func (t *ticketLock) init() {
	t.initOnce.Do(func() { t.cond = sync.NewCond(&t.mu) })
}

func (t *ticketLock) Lock() {
	t.init()
	t.mu.Lock()
	ticket := t.next
	t.next++
	for t.serving != ticket {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

func (t *ticketLock) Unlock() {
	t.init()
	t.mu.Lock()
	t.serving++
	t.cond.Broadcast()
	t.mu.Unlock()
}

// TaskLog is a per-Job bounded ordered set of TaskLogEntry, capacity 500,
// evicting the oldest entry first (spec §3/§4.4).
type TaskLog struct {
	lock    ticketLock
	entries []TaskLogEntry
}

// Append records a new entry, assigning it the next global entry id, and
// evicts the oldest entry if the log is now over capacity.
func (l *TaskLog) Append(taskID int, status task.Status, timestamp time.Time) {
	entry := TaskLogEntry{
		EntryID:   globalEntryID.Add(1),
		Timestamp: timestamp,
		TaskID:    taskID,
		Status:    status,
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	// Insert at the entry's (Timestamp, EntryID) position so the log stays
	// ordered even when entries are appended out of timestamp order.
	idx := sort.Search(len(l.entries), func(i int) bool {
		e := l.entries[i]
		return e.Timestamp.After(entry.Timestamp) ||
			(e.Timestamp.Equal(entry.Timestamp) && e.EntryID > entry.EntryID)
	})
	l.entries = append(l.entries, TaskLogEntry{})
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = entry
	if len(l.entries) > taskLogCapacity {
		l.entries = l.entries[len(l.entries)-taskLogCapacity:]
	}
}

// All returns a snapshot of the log, oldest first.
func (l *TaskLog) All() []TaskLogEntry {
	l.lock.Lock()
	defer l.lock.Unlock()

	out := make([]TaskLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Filter returns a snapshot containing only entries whose Status is in
// statuses, oldest first.
func (l *TaskLog) Filter(statuses map[task.Status]bool) []TaskLogEntry {
	l.lock.Lock()
	defer l.lock.Unlock()

	out := make([]TaskLogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if statuses[e.Status] {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the current number of retained entries.
func (l *TaskLog) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.entries)
}
