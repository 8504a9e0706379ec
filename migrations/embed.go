// Package migrations embeds the PostgreSQL schema migrations and applies them with
// golang-migrate. The same files are read from disk by integration tests (file:// source)
// and from the binary by cmd/migrator and the pipeline's auto-migrate option (iofs source).
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// filenamePattern matches 001_name.up.sql and 001_name.down.sql.
var filenamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

var (
	// ErrNoMigrations is returned when the source holds no migration files.
	ErrNoMigrations = errors.New("no migration files found")

	// ErrInvalidMigrationSet is returned when files are unpaired or the sequence has gaps.
	ErrInvalidMigrationSet = errors.New("invalid migration set")
)

type (
	// Source is a set of migration files with validation helpers.
	Source struct {
		fs fs.FS
	}

	// File describes one parsed migration filename.
	File struct {
		Sequence  int
		Name      string
		Direction string
		Filename  string
	}
)

// NewSource wraps filesystem. A nil filesystem selects the embedded migrations.
func NewSource(filesystem fs.FS) *Source {
	if filesystem == nil {
		filesystem = embedded
	}

	return &Source{fs: filesystem}
}

// FS returns the underlying filesystem.
func (s *Source) FS() fs.FS {
	return s.fs
}

// List returns the well-formed migration filenames in lexical order.
func (s *Source) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if !entry.IsDir() && filenamePattern.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)

	return files, nil
}

// Latest returns the highest sequence number in the source, or 0 when empty.
func (s *Source) Latest() int {
	files, err := s.List()
	if err != nil {
		return 0
	}

	latest := 0

	for _, name := range files {
		if f, err := parseFilename(name); err == nil && f.Sequence > latest {
			latest = f.Sequence
		}
	}

	return latest
}

// Validate checks that every up file has a down file and that sequences run 001..N without gaps.
func (s *Source) Validate() error {
	files, err := s.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	pairs := make(map[int]map[string]bool)

	for _, name := range files {
		f, err := parseFilename(name)
		if err != nil {
			return err
		}

		if pairs[f.Sequence] == nil {
			pairs[f.Sequence] = make(map[string]bool)
		}

		pairs[f.Sequence][f.Direction] = true
	}

	sequences := make([]int, 0, len(pairs))
	for seq, directions := range pairs {
		if !directions["up"] || !directions["down"] {
			return fmt.Errorf("%w: migration %03d needs both up and down files", ErrInvalidMigrationSet, seq)
		}

		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	for i, seq := range sequences {
		if seq != i+1 {
			return fmt.Errorf("%w: expected %03d, found %03d", ErrInvalidMigrationSet, i+1, seq)
		}
	}

	return nil
}

func parseFilename(name string) (File, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return File{}, fmt.Errorf("%w: bad filename %s", ErrInvalidMigrationSet, name)
	}

	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return File{}, fmt.Errorf("%w: bad sequence in %s", ErrInvalidMigrationSet, name)
	}

	return File{Sequence: seq, Name: m[2], Direction: m[3], Filename: name}, nil
}
