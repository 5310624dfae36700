// ============================================================================
// 事件日誌核心實作
// ============================================================================
//
// Package: internal/storage/journal
// 文件: journal.go
// 功能: 以追加方式記錄一次運行中執行器收到的每個通知
//
// 職責：
//   1. 以 JSON 行追加記錄，每個通知一行
//   2. 緩衝寫入，依大小、時間間隔、Flush 或 Close 刷新
//   3. 重放檔案，逐行驗證序號與校驗和
//   4. 重新開啟既有檔案時延續序號；每次運行以 RUN_STARTED 記錄開始
//
// 檔案格式（每行一個 JSON 物件）:
//
//   {"seq":1,"id":"01J...","type":"RUN_STARTED","time":0,"run":{...},"checksum":...}
//   {"seq":2,"id":"01J...","type":"MACHINE_ADDED","time":0,"machine":{...},"checksum":...}
//   {"seq":3,"id":"01J...","type":"WORKFLOW_ADDED","time":0,"workflow":{...},"checksum":...}
//
// 執行器是確定性的，將相同通知重放到新的執行器即可完整重建狀態（見 rebuild.go）。
// ============================================================================

package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

// Default buffering parameters.
const (
	DefaultBufferSize    = 100
	DefaultFlushInterval = time.Second
)

// Options configures a Journal.
type Options struct {
	BufferSize    int           // records held before a forced flush
	FlushInterval time.Duration // maximum age of the oldest unflushed record
	SyncOnFlush   bool          // fsync after every flush
}

// Journal is an append-only event log. Safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	path    string
	seq     uint64
	closed  bool
	opts    Options

	buffer        []Record
	lastFlushTime time.Time
}

// Open creates or opens the journal at path. An existing file is verified
// and the sequence continues after its last record.
func Open(path string, opts Options) (*Journal, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}

	var seq uint64
	if stat, err := os.Stat(path); err == nil && stat.Size() > 0 {
		err := Replay(path, func(r Record) error {
			seq = r.Seq
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("open journal %s: %w", path, err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	return &Journal{
		file:          file,
		encoder:       json.NewEncoder(file),
		path:          path,
		seq:           seq,
		opts:          opts,
		buffer:        make([]Record, 0, opts.BufferSize),
		lastFlushTime: time.Now(),
	}, nil
}

// Append assigns the next sequence number, an id and a checksum to record
// and buffers it. A nil journal discards the record.
func (j *Journal) Append(record Record) error {
	if j == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}

	j.seq++
	record.Seq = j.seq
	record.ID = ulid.Make().String()
	sum, err := CalculateChecksum(record)
	if err != nil {
		j.seq--
		return fmt.Errorf("append %s: %w", record.Type, err)
	}
	record.Checksum = sum
	j.buffer = append(j.buffer, record)

	if len(j.buffer) >= j.opts.BufferSize || time.Since(j.lastFlushTime) > j.opts.FlushInterval {
		return j.flushLocked()
	}
	return nil
}

// RecordRunStart marks the beginning of a run appended to the journal.
func (j *Journal) RecordRunStart(algorithm string, horizon float64) error {
	return j.Append(Record{Type: EventRunStarted, Run: &RunStart{Algorithm: algorithm, Horizon: horizon}})
}

// RecordMachine journals a machine registration.
func (j *Journal) RecordMachine(now float64, machine types.Machine) error {
	return j.Append(Record{Type: EventMachineAdded, Time: now, Machine: &machine})
}

// RecordWorkflow journals a workflow registration.
func (j *Journal) RecordWorkflow(now float64, workflow types.Workflow) error {
	return j.Append(Record{Type: EventWorkflowAdded, Time: now, Workflow: &workflow})
}

// RecordCommit journals a scheduling decision.
func (j *Journal) RecordCommit(now float64, assignment types.Assignment) error {
	return j.Append(Record{Type: EventTaskCommitted, Time: now, Assignment: &assignment})
}

// RecordDispatch journals a task handed to its machine.
func (j *Journal) RecordDispatch(now float64, assignment types.Assignment) error {
	return j.Append(Record{Type: EventTaskDispatched, Time: now, Assignment: &assignment})
}

// RecordCompletion journals a task completion.
func (j *Journal) RecordCompletion(now float64, task types.TaskKey) error {
	return j.Append(Record{Type: EventTaskCompleted, Time: now, Task: &task})
}

// Flush writes all buffered records.
func (j *Journal) Flush() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

// Close flushes and closes the file. Further appends fail with ErrClosed.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.flushLocked(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// LastSeq returns the sequence number of the last appended record.
func (j *Journal) LastSeq() uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) flushLocked() error {
	if len(j.buffer) == 0 {
		return nil
	}
	for _, record := range j.buffer {
		if err := j.encoder.Encode(record); err != nil {
			return fmt.Errorf("flush journal: %w", err)
		}
	}
	j.buffer = j.buffer[:0]
	j.lastFlushTime = time.Now()

	if j.opts.SyncOnFlush {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("sync journal: %w", err)
		}
	}
	return nil
}

// ============================================================================
// Replay
// ============================================================================

// Replay reads the journal at path and calls handler for every record in
// order. Records must carry consecutive sequence numbers starting at 1 and
// a valid checksum.
func Replay(path string, handler Handler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return ReplayReader(file, handler)
}

// ReplayReader is Replay over an arbitrary reader.
func ReplayReader(r io.Reader, handler Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	line := 0
	var expected uint64 = 1
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return &CorruptionError{Line: line, Cause: err}
		}
		if record.Seq != expected {
			return &CorruptionError{Line: line, Cause: fmt.Errorf("seq %d, expected %d", record.Seq, expected)}
		}
		if err := VerifyChecksum(record); err != nil {
			return err
		}
		if err := handler(record); err != nil {
			return fmt.Errorf("replay seq %d: %w", record.Seq, err)
		}
		expected++
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return &CorruptionError{Line: line + 1, Cause: err}
		}
		return err
	}
	return nil
}
