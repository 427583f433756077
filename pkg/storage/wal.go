package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vjranagit/qualitytrend/pkg/types"
)

// WAL implements a Write-Ahead Log for sample ingestion
type WAL struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// WALEntry represents a single WAL entry
type WALEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Series    []types.Series `json:"series"`
}

// NewWAL creates a new Write-Ahead Log file under dataPath/wal
func NewWAL(dataPath string) (*WAL, error) {
	walPath := filepath.Join(dataPath, "wal")
	if err := os.MkdirAll(walPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filename := filepath.Join(walPath, fmt.Sprintf("wal-%d.log", time.Now().UnixNano()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	wal := &WAL{
		path:   walPath,
		file:   file,
		writer: bufio.NewWriter(file),
	}

	// flush every second
	wal.flushTimer = time.AfterFunc(time.Second, wal.autoFlush)

	return wal, nil
}

// Name returns the path of the current WAL file
func (w *WAL) Name() string {
	return w.file.Name()
}

// Append appends a batch of series to the WAL
func (w *WAL) Append(series []types.Series) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := WALEntry{
		Timestamp: time.Now(),
		Series:    series,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}

	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// Flush flushes the WAL to disk
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if w.closed {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

func (w *WAL) autoFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.flushLocked()
	w.flushTimer.Reset(time.Second)
}

// Close flushes and closes the WAL file
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.flushTimer.Stop()

	if err := w.flushLocked(); err != nil {
		return err
	}
	w.closed = true
	return w.file.Close()
}

// ReplayWAL hands every entry of the WAL files under dataPath to handler, oldest file first,
// and removes each file once replayed.
func ReplayWAL(dataPath string, handler func(*WALEntry) error) error {
	walPath := filepath.Join(dataPath, "wal")

	entries, err := os.ReadDir(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read WAL directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		filename := filepath.Join(walPath, name)
		if err := replayWALFile(filename, handler); err != nil {
			return fmt.Errorf("failed to replay %s: %w", filename, err)
		}
		if err := os.Remove(filename); err != nil {
			return fmt.Errorf("failed to remove %s: %w", filename, err)
		}
	}

	return nil
}

func replayWALFile(filename string, handler func(*WALEntry) error) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry WALEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// a torn final line from a crash mid-append
			return nil
		}
		if err := handler(&entry); err != nil {
			return fmt.Errorf("failed to replay entry: %w", err)
		}
	}

	return scanner.Err()
}

// Writer is the sink of a BatchWriter
type Writer interface {
	Write(ctx context.Context, series []types.Series) error
}

// BatchWriter buffers series and writes them to a Writer in batches, merged per tag
type BatchWriter struct {
	sink       Writer
	buffer     []types.Series
	buffered   int
	bufferSize int
	interval   time.Duration
	mu         sync.Mutex
	flushTimer *time.Timer
	err        error
	closed     bool
}

// NewBatchWriter creates a batch writer that flushes once bufferSize samples are pending
// or every interval
func NewBatchWriter(sink Writer, bufferSize int, interval time.Duration) *BatchWriter {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	bw := &BatchWriter{
		sink:       sink,
		bufferSize: bufferSize,
		interval:   interval,
	}
	bw.flushTimer = time.AfterFunc(interval, bw.autoFlush)
	return bw
}

// Write buffers a series
func (bw *BatchWriter) Write(ctx context.Context, series types.Series) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return fmt.Errorf("batch writer closed")
	}
	if bw.err != nil {
		return bw.err
	}

	bw.buffer = append(bw.buffer, series)
	bw.buffered += len(series.Samples)

	if bw.buffered >= bw.bufferSize {
		return bw.flushLocked(ctx)
	}
	return nil
}

// Flush writes everything buffered
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked(ctx)
}

func (bw *BatchWriter) flushLocked(ctx context.Context) error {
	if len(bw.buffer) == 0 {
		return nil
	}

	// Combine the buffered series per tag, first seen order
	byTag := make(map[string]int)
	batch := make([]types.Series, 0, len(bw.buffer))
	for _, s := range bw.buffer {
		if i, ok := byTag[s.Tag]; ok {
			batch[i].Samples = append(batch[i].Samples, s.Samples...)
			continue
		}
		byTag[s.Tag] = len(batch)
		batch = append(batch, types.Series{Tag: s.Tag, Samples: append([]types.Sample(nil), s.Samples...)})
	}

	if err := bw.sink.Write(ctx, batch); err != nil {
		return fmt.Errorf("batch write failed: %w", err)
	}

	bw.buffer = bw.buffer[:0]
	bw.buffered = 0
	return nil
}

func (bw *BatchWriter) autoFlush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return
	}
	// A background failure is reported by the next Write or Close
	if err := bw.flushLocked(context.Background()); err != nil && bw.err == nil {
		bw.err = err
	}
	bw.flushTimer.Reset(bw.interval)
}

// Close stops the timer and flushes what is left
func (bw *BatchWriter) Close(ctx context.Context) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return nil
	}
	bw.closed = true
	bw.flushTimer.Stop()

	if err := bw.flushLocked(ctx); err != nil {
		return err
	}
	return bw.err
}
