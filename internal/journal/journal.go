// Package journal appends one JSON line per completed poll cycle to
// date-organized, size-rotated files.
package journal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/scheduler"
	"github.com/samber/lo"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultBufferSize = 256
	DefaultMaxSizeMB  = 50
	fileName          = "cycles.jsonl"
)

var (
	ErrClosed     = errors.New("journal: writer is closed")
	ErrBufferFull = errors.New("journal: buffer full")
)

// Status is the journaled view of one channel.
type Status struct {
	Slug     string `json:"slug"`
	Live     bool   `json:"live"`
	Viewers  int    `json:"viewers,omitempty"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category,omitempty"`
}

// Entry is one journaled cycle.
type Entry struct {
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Watched    int       `json:"watched"`
	Live       int       `json:"live"`
	Failed     []string  `json:"failed,omitempty"`
	Channels   []Status  `json:"channels"`
}

// FromCycle converts a completed scheduler cycle.
func FromCycle(c scheduler.Cycle) Entry {
	return Entry{
		StartedAt:  c.StartedAt.UTC(),
		DurationMS: c.FinishedAt.Sub(c.StartedAt).Milliseconds(),
		Watched:    len(c.Watched),
		Live:       kick.LiveCount(c.Channels),
		Failed:     c.Failed,
		Channels: lo.Map(c.Channels, func(ch kick.Channel, _ int) Status {
			return Status{
				Slug:     ch.Slug,
				Live:     ch.IsLive,
				Viewers:  ch.Viewers(),
				Title:    lo.FromPtr(ch.Title),
				Category: lo.FromPtr(ch.Category),
			}
		}),
	}
}

// Writer handles async writing of entries. Files live at
// <baseDir>/<YYYY-MM-DD>/cycles.jsonl and roll over at midnight UTC.
type Writer struct {
	baseDir   string
	maxSizeMB int
	now       func() time.Time
	writeCh   chan Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

func NewWriter(baseDir string, bufferSize, maxSizeMB int) *Writer {
	return newWriter(baseDir, bufferSize, maxSizeMB, time.Now)
}

func newWriter(baseDir string, bufferSize, maxSizeMB int, now func() time.Time) *Writer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	w := &Writer{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		now:       now,
		writeCh:   make(chan Entry, bufferSize),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Observe is a scheduler observer.
func (w *Writer) Observe(c scheduler.Cycle) {
	if err := w.Write(FromCycle(c)); err != nil {
		slog.Warn("journal dropped cycle", "error", err)
	}
}

// Write queues an entry without blocking.
func (w *Writer) Write(e Entry) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.writeCh <- e:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops the writer after flushing queued entries.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		return w.logger.Close()
	}
	return nil
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case e := <-w.writeCh:
			w.writeEntry(e)
		case <-w.done:
			for {
				select {
				case e := <-w.writeCh:
					w.writeEntry(e)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) writeEntry(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("journal marshal failed", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if date != w.currentDate || w.logger == nil {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("journal rotate failed", "error", err, "date", date)
			return
		}
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err)
	}
}

func (w *Writer) rotateForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}
	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(dir, fileName)
	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     30,
		LocalTime:  false,
	}
	w.currentDate = date
	slog.Info("journal opened file", "file", filename)
	return nil
}
