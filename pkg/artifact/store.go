// Package artifact persists raw command output as paired text and JSON
// files under the data root:
//
//	<root>/TEXT/<device>_<sanitised_cmd>_<ts>.txt
//	<root>/JSON/<device>_<sanitised_cmd>_<ts>.json
//
// Files accumulate across runs; the latest per (device, command kind) is
// the authoritative input for the topology builder. Writes are atomic
// (temp file + rename) and never overwrite an existing artifact.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/netman-network/netman/pkg/util"
)

// Folder selects the text or JSON side of the store.
type Folder string

const (
	FolderText Folder = "text"
	FolderJSON Folder = "json"
)

// FileInfo describes one stored artifact.
type FileInfo struct {
	Name      string    `json:"filename"`
	Path      string    `json:"path"`
	Device    string    `json:"device"`
	Command   string    `json:"command"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	Folder    Folder    `json:"folder"`
}

// Store writes and indexes artifacts under a rooted data directory.
type Store struct {
	root    string
	textDir string
	jsonDir string
}

// NewStore creates the TEXT/ and JSON/ directories under root.
func NewStore(root string) (*Store, error) {
	s := &Store{
		root:    root,
		textDir: filepath.Join(root, "TEXT"),
		jsonDir: filepath.Join(root, "JSON"),
	}
	for _, dir := range []string{s.textDir, s.jsonDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &util.StorageError{Path: dir, Err: err}
		}
	}
	return s, nil
}

// JSONPayload is the sidecar document stored next to each text artifact.
type JSONPayload struct {
	Command         string         `json:"command"`
	DeviceID        string         `json:"device_id"`
	DeviceName      string         `json:"device_name"`
	Timestamp       time.Time      `json:"timestamp"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Parsed          map[string]any `json:"parsed_data,omitempty"`
	RawOutput       string         `json:"raw_output"`
}

// Write stores the text output and its JSON sidecar. Returns the pair of
// paths written. An existing file with the same name is an error, not an
// overwrite.
func (s *Store) Write(deviceName, command, text string, payload JSONPayload, ts time.Time) (textPath, jsonPath string, err error) {
	base := Filename(deviceName, command, ts)
	textPath = filepath.Join(s.textDir, base+".txt")
	jsonPath = filepath.Join(s.jsonDir, base+".json")

	jsonData, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", "", &util.StorageError{Path: jsonPath, Err: err}
	}

	if err := writeAtomic(textPath, []byte(text)); err != nil {
		return "", "", err
	}
	if err := writeAtomic(jsonPath, jsonData); err != nil {
		os.Remove(textPath)
		return "", "", err
	}
	return textPath, jsonPath, nil
}

// writeAtomic writes to a temp file in the target directory and renames
// into place, refusing to clobber an existing artifact.
func writeAtomic(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return &util.StorageError{Path: path, Err: fmt.Errorf("artifact already exists")}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return &util.StorageError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &util.StorageError{Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &util.StorageError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &util.StorageError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &util.StorageError{Path: path, Err: err}
	}
	return nil
}

// List returns artifacts in a folder, newest first, optionally filtered by
// device name.
func (s *Store) List(folder Folder, deviceFilter string) ([]FileInfo, error) {
	dir, ext := s.folderDir(folder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &util.StorageError{Path: dir, Err: err}
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ext)
		device, command, ts, perr := ParseFilename(base)
		if perr != nil {
			continue
		}
		if deviceFilter != "" && device != strings.ToLower(deviceFilter) {
			continue
		}
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:      e.Name(),
			Path:      filepath.Join(dir, e.Name()),
			Device:    device,
			Command:   command,
			Kind:      KindOf(command),
			Timestamp: ts,
			SizeBytes: info.Size(),
			Folder:    folder,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Timestamp.After(files[j].Timestamp) })
	return files, nil
}

// Latest returns the newest artifact of the given kind for a device, or
// nil when none exists.
func (s *Store) Latest(deviceName string, kind Kind) (*FileInfo, error) {
	files, err := s.List(FolderText, deviceName)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if files[i].Kind == kind {
			return &files[i], nil // newest-first order
		}
	}
	return nil, nil
}

// Read returns the content of a named artifact. The name must be a bare
// filename inside the store: absolute paths, path separators, and parent
// references are rejected before any filesystem access.
func (s *Store) Read(folder Folder, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	dir, _ := s.folderDir(folder)
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %q: %w", name, util.ErrNotFound)
		}
		return nil, &util.StorageError{Path: path, Err: err}
	}
	return data, nil
}

func validateName(name string) error {
	if name == "" ||
		strings.ContainsAny(name, "/\\") ||
		strings.Contains(name, "..") ||
		filepath.IsAbs(name) {
		return util.NewValidationError(fmt.Sprintf("illegal artifact name %q", name))
	}
	return nil
}

func (s *Store) folderDir(folder Folder) (dir, ext string) {
	if folder == FolderJSON {
		return s.jsonDir, ".json"
	}
	return s.textDir, ".txt"
}

// Root returns the data root this store is anchored to.
func (s *Store) Root() string { return s.root }
