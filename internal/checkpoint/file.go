// Package checkpoint persists the read position of a stream loop so a
// restarted process can resume instead of replaying from the beginning.
package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Version is the only file format version understood by File.
const Version = 0

// Partition identifies one input partition.
type Partition struct {
	Topic     string
	Partition int32
}

func (p Partition) String() string {
	return fmt.Sprintf("%s-%d", p.Topic, p.Partition)
}

// File stores the next offset to read per input partition.
//
// Format:
//
//	0                 version
//	2                 number of entries
//	clicks 0 12345    <topic> <partition> <next offset>
//	clicks 1 67890
//
// Writes go to a temp file which is synced and renamed over the old one.
type File struct {
	Path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{Path: path}
}

// read returns all saved positions. A missing file is an empty checkpoint.
func (f *File) read() (map[Partition]int64, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[Partition]int64{}, nil
		}
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	line := 0
	nextLine := func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		line++
		return strings.TrimSpace(scanner.Text()), true
	}

	text, ok := nextLine()
	if !ok {
		return nil, fmt.Errorf("checkpoint %s is empty", f.Path)
	}
	version, err := strconv.Atoi(text)
	if err != nil {
		return nil, fmt.Errorf("line %d: invalid version: %w", line, err)
	}
	if version != Version {
		return nil, fmt.Errorf("unknown checkpoint version %d", version)
	}

	text, ok = nextLine()
	if !ok {
		return nil, fmt.Errorf("line 2: missing entry count")
	}
	count, err := strconv.Atoi(text)
	if err != nil {
		return nil, fmt.Errorf("line %d: invalid entry count: %w", line, err)
	}

	positions := make(map[Partition]int64, count)
	for {
		text, ok := nextLine()
		if !ok {
			break
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: want <topic> <partition> <offset>, got %q", line, text)
		}
		partition, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid partition: %w", line, err)
		}
		offset, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid offset: %w", line, err)
		}
		if offset < 0 {
			return nil, fmt.Errorf("line %d: negative offset %d", line, offset)
		}
		positions[Partition{Topic: fields[0], Partition: int32(partition)}] = offset
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if len(positions) != count {
		return nil, fmt.Errorf("checkpoint declares %d entries, found %d", count, len(positions))
	}
	return positions, nil
}

// Position returns the saved next offset of p.
func (f *File) Position(p Partition) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	positions, err := f.read()
	if err != nil {
		return 0, false, err
	}
	offset, ok := positions[p]
	return offset, ok, nil
}

// Save records next as the position of p, keeping other entries.
func (f *File) Save(p Partition, next int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	positions, err := f.read()
	if err != nil {
		return err
	}
	positions[p] = next
	return f.write(positions)
}

// write replaces the checkpoint with positions. Writing no positions deletes
// the file.
func (f *File) write(positions map[Partition]int64) error {
	if len(positions) == 0 {
		return f.delete()
	}

	entries := make([]Partition, 0, len(positions))
	for p, offset := range positions {
		if offset < 0 {
			return fmt.Errorf("invalid offset %d for %s", offset, p)
		}
		if strings.ContainsAny(p.Topic, " \t\n") || p.Topic == "" {
			return fmt.Errorf("invalid topic name %q", p.Topic)
		}
		entries = append(entries, p)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Topic != entries[j].Topic {
			return entries[i].Topic < entries[j].Topic
		}
		return entries[i].Partition < entries[j].Partition
	})

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmpPath := f.Path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	fail := func(err error) error {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "%d\n%d\n", Version, len(entries))
	for _, p := range entries {
		fmt.Fprintf(w, "%s %d %d\n", p.Topic, p.Partition, positions[p])
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("write checkpoint: %w", err))
	}
	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("sync checkpoint: %w", err))
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	// The rename is only durable once the directory entry is synced.
	if runtime.GOOS != "windows" {
		d, err := os.Open(dir)
		if err != nil {
			return fmt.Errorf("open checkpoint directory: %w", err)
		}
		defer func() { _ = d.Close() }()
		if err := d.Sync(); err != nil {
			return fmt.Errorf("sync checkpoint directory: %w", err)
		}
	}
	return nil
}

func (f *File) delete() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
