package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Descriptor identifies the remote artifact and what a complete local copy looks like.
type Descriptor struct {
	// Name is the file name on disk and the value substituted for {name} in URL.
	Name string
	// URL is the remote location. It may contain a {name} placeholder.
	URL string
	// ExpectedSize is the exact length in bytes of a complete artifact.
	ExpectedSize int64
	// Checksum is an optional lowercase hex SHA-256 of the complete artifact.
	Checksum string
}

// ResolvedURL returns URL with the {name} placeholder expanded.
func (d Descriptor) ResolvedURL() string {
	return strings.ReplaceAll(d.URL, "{name}", d.Name)
}

// Validate checks the descriptor is usable for downloads.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("artifact name is empty")
	}
	if strings.ContainsAny(d.Name, `/\`) {
		return fmt.Errorf("artifact name %q must not contain path separators", d.Name)
	}
	if strings.TrimSpace(d.URL) == "" {
		return errors.New("artifact url is empty")
	}
	if d.ExpectedSize <= 0 {
		return fmt.Errorf("artifact expected size must be positive, got %d", d.ExpectedSize)
	}
	if d.Checksum != "" {
		if _, err := hex.DecodeString(d.Checksum); err != nil || len(d.Checksum) != sha256.Size*2 {
			return fmt.Errorf("artifact checksum %q is not a hex sha256", d.Checksum)
		}
	}
	return nil
}

// StateKind is the coarse download state of the artifact on disk.
type StateKind int

const (
	Absent StateKind = iota
	Partial
	Complete
)

func (k StateKind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Complete:
		return "complete"
	default:
		return "absent"
	}
}

// State is derived from the filesystem on every call.
type State struct {
	Kind        StateKind
	BytesOnDisk int64
}

// Store is a read-only view of the artifact file under an app-private directory.
// Every call re-stats the filesystem.
type Store struct {
	dir  string
	desc Descriptor
}

// NewStore returns a Store rooted at dir for the given artifact.
func NewStore(dir string, desc Descriptor) *Store {
	return &Store{dir: dir, desc: desc}
}

// Descriptor returns the artifact the store tracks.
func (s *Store) Descriptor() Descriptor { return s.desc }

// Dir returns the directory holding the artifact.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute location of the artifact file.
func (s *Store) Path() string {
	p := filepath.Join(s.dir, s.desc.Name)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// EnsureDir creates the storage directory if needed.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	return nil
}

// State reports Absent, Partial(n) or Complete.
func (s *Store) State() (State, error) {
	fi, err := os.Stat(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return State{Kind: Absent}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("stat artifact: %w", err)
	}
	if fi.IsDir() {
		return State{}, fmt.Errorf("artifact path %s is a directory", s.Path())
	}
	n := fi.Size()
	if s.desc.ExpectedSize > 0 && n == s.desc.ExpectedSize {
		return State{Kind: Complete, BytesOnDisk: n}, nil
	}
	return State{Kind: Partial, BytesOnDisk: n}, nil
}

// VerifyIntegrity reports whether the file has exactly the expected size and, when a
// checksum is configured, the expected SHA-256 digest. The returned error explains a
// false result (ErrSizeMismatch, ErrChecksumMismatch) or reports an I/O failure.
func (s *Store) VerifyIntegrity() (bool, error) {
	st, err := s.State()
	if err != nil {
		return false, err
	}
	if st.Kind != Complete {
		return false, fmt.Errorf("%w: have %d bytes, want %d", ErrSizeMismatch, st.BytesOnDisk, s.desc.ExpectedSize)
	}
	if s.desc.Checksum == "" {
		return true, nil
	}
	sum, err := fileSHA256(s.Path())
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(sum, s.desc.Checksum) {
		return false, fmt.Errorf("%w: got %s", ErrChecksumMismatch, sum)
	}
	return true, nil
}

// Remove deletes the artifact file. It reports false when there was nothing to delete.
func (s *Store) Remove() (bool, error) {
	err := os.Remove(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove artifact: %w", err)
	}
	return true, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
