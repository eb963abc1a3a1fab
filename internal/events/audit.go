package events

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxLogSize = 10 * 1024 * 1024
	LogFileExtension  = ".jsonl"
	ArchiveDir        = "archive"
)

// Transition is one audit record: a silence toggle, a timer fire or a
// reschedule, whichever layer performed it.
type Transition struct {
	Timestamp time.Time      `json:"timestamp"`
	Layer     string         `json:"layer"`
	Action    string         `json:"action"`
	Prayer    string         `json:"prayer,omitempty"`
	OK        bool           `json:"ok"`
	Details   map[string]any `json:"details,omitempty"`
	Checksum  string         `json:"checksum,omitempty"`
}

// AuditLogger appends transitions to a JSONL file, rotating into archive/
// when it grows past maxSize.
type AuditLogger struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	logPath         string
	enableChecksum  bool
	rotationCounter int
	now             func() time.Time
}

func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	l := &AuditLogger{logPath: logPath, maxSize: maxSize, now: time.Now}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// Record appends a transition. A nil logger drops it, so schedulers built
// without an audit log need no guard.
func (l *AuditLogger) Record(layer, action, prayer string, ok bool, details map[string]any) error {
	if l == nil {
		return nil
	}
	return l.Write(&Transition{
		Timestamp: l.now().UTC(),
		Layer:     layer,
		Action:    action,
		Prayer:    prayer,
		OK:        ok,
		Details:   details,
	})
}

// Write appends entry and syncs the file.
func (l *AuditLogger) Write(entry *Transition) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.enableChecksum {
		entry.Checksum = checksum(*entry)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}
	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	l.currentSize += int64(n)
	return nil
}

func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	archiveDir := filepath.Join(filepath.Dir(l.logPath), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	l.rotationCounter++
	base := strings.TrimSuffix(filepath.Base(l.logPath), LogFileExtension)
	archiveName := fmt.Sprintf("%s.%s.%d%s", base, l.now().Format("20060102_150405"), l.rotationCounter, LogFileExtension)
	if err := os.Rename(l.logPath, filepath.Join(archiveDir, archiveName)); err != nil {
		return fmt.Errorf("archive audit log: %w", err)
	}
	return l.openLogFile()
}

func checksum(entry Transition) string {
	entry.Checksum = ""
	data, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func (l *AuditLogger) EnableChecksum(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enableChecksum = enable
}

func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// VerifyLogIntegrity counts entries and those whose checksum (if any) matches.
func VerifyLogIntegrity(logPath string) (total, valid int, err error) {
	file, err := os.Open(logPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	for dec.More() {
		var entry Transition
		if err := dec.Decode(&entry); err != nil {
			break
		}
		total++
		if entry.Checksum == "" || checksum(entry) == entry.Checksum {
			valid++
		}
	}
	return total, valid, nil
}

// Tail returns the last n transitions of the log, oldest first. A missing
// file yields none. Malformed lines are skipped.
func Tail(logPath string, n int) ([]Transition, error) {
	file, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var ring []Transition
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var entry Transition
		if json.Unmarshal(sc.Bytes(), &entry) != nil {
			continue
		}
		ring = append(ring, entry)
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	return ring, sc.Err()
}
