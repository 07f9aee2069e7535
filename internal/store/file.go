package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

const fileVersion = 1

// fileDoc is the on-disk YAML layout. Raw is authoritative; Value is a
// decoded copy for people reading the file.
type fileDoc struct {
	Version int         `yaml:"version"`
	Entries []fileEntry `yaml:"entries"`
}

type fileEntry struct {
	Key   uint8  `yaml:"key"`
	Name  string `yaml:"name,omitempty"`
	Raw   uint32 `yaml:"raw"`
	Value string `yaml:"value,omitempty"`
}

// File is a Store persisted as a YAML document. Every committed write
// rewrites the document through a temp file and rename, so a crash leaves
// either the previous or the new document on disk.
type File struct {
	path   string
	mem    *Memory
	logger *slog.Logger
}

// OpenFile loads path if it exists. A missing file is an empty store.
func OpenFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f := &File{path: path, mem: NewMemory(), logger: logger}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", path, err)
	}

	doc, err := decodeDoc(data)
	if err != nil {
		return nil, fmt.Errorf("parse store %s: %w", path, err)
	}
	for _, e := range doc.Entries {
		f.mem.values[Key(e.Key)] = e.Raw
	}
	return f, nil
}

func decodeDoc(data []byte) (fileDoc, error) {
	var doc fileDoc
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return fileDoc{}, err
	}
	if doc.Version != fileVersion {
		return fileDoc{}, fmt.Errorf("unsupported store version %d", doc.Version)
	}
	return doc, nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) load(key Key) (uint32, bool) { return f.mem.load(key) }

func (f *File) save(key Key, v uint32) {
	if old, ok := f.mem.load(key); ok && old == v {
		return
	}
	f.mem.save(key, v)
	if err := f.flush(); err != nil {
		f.logger.Error("store write failed", "key", key.String(), "path", f.path, "error", err)
	}
}

func (f *File) Uint32(key Key, def uint32) uint32    { return readUint32(f, key, def) }
func (f *File) SetUint32(key Key, v uint32)          { f.save(key, v) }
func (f *File) Float32(key Key, def float32) float32 { return readFloat32(f, key, def) }
func (f *File) SetFloat32(key Key, v float32)        { f.save(key, math.Float32bits(v)) }

// Put writes a raw word and returns the write error instead of logging it.
func (f *File) Put(key Key, raw uint32) error {
	f.mem.save(key, raw)
	return f.flush()
}

// Snapshot returns a copy of all stored words.
func (f *File) Snapshot() map[Key]uint32 { return f.mem.Snapshot() }

func (f *File) flush() error {
	data, err := yaml.Marshal(buildDoc(f.mem.Snapshot()))
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func buildDoc(values map[Key]uint32) fileDoc {
	keys := make([]Key, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	doc := fileDoc{Version: fileVersion}
	for _, k := range keys {
		doc.Entries = append(doc.Entries, fileEntry{
			Key:   uint8(k),
			Name:  k.String(),
			Raw:   values[k],
			Value: FormatValue(k, values[k]),
		})
	}
	return doc
}

// FormatValue renders a raw word the way the key is interpreted.
func FormatValue(k Key, raw uint32) string {
	if k.IsFloat() {
		return strconv.FormatFloat(float64(math.Float32frombits(raw)), 'g', -1, 32)
	}
	return strconv.FormatUint(uint64(raw), 10)
}

// ParseValue is the inverse of FormatValue.
func ParseValue(k Key, s string) (uint32, error) {
	if k.IsFloat() {
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", k, err)
		}
		return math.Float32bits(float32(v)), nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return uint32(v), nil
}
