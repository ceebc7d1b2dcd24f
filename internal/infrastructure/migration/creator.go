package migration

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// header is written at the top of both files of a new pair.
var header = template.Must(template.New("header").Parse(
	`-- {{.File.Name}}{{if .Down}} (Rollback){{end}}
-- Created {{.File.Timestamp}}
{{- if and .File.Description (not .Down)}}
-- {{.File.Description}}
{{- end}}

`))

// MigrationFile is a pair written by CreateMigration.
type MigrationFile struct {
	Version     uint
	Name        string
	Description string
	Timestamp   string
	UpPath      string
	DownPath    string
}

// Listed is an up migration found in a source.
type Listed struct {
	Version uint
	Name    string
}

// CreateMigration writes NNNNNN_name.up.sql and .down.sql into dir, numbered
// one past the highest version already there. Existing files are never
// overwritten.
func CreateMigration(dir, name, description string) (*MigrationFile, error) {
	slug := sanitizeName(name)
	if slug == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	existing, err := ListMigrations(os.DirFS(dir))
	if err != nil {
		return nil, err
	}

	version := uint(1)
	if len(existing) > 0 {
		version = existing[len(existing)-1].Version + 1
	}
	stem := filepath.Join(dir, fmt.Sprintf("%06d_%s", version, slug))
	mf := &MigrationFile{
		Version:     version,
		Name:        slug,
		Description: description,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		UpPath:      stem + ".up.sql",
		DownPath:    stem + ".down.sql",
	}

	if err := mf.write(mf.UpPath, false); err != nil {
		return nil, err
	}
	if err := mf.write(mf.DownPath, true); err != nil {
		_ = os.Remove(mf.UpPath)
		return nil, err
	}
	return mf, nil
}

func (mf *MigrationFile) write(path string, down bool) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	err = header.Execute(f, struct {
		File *MigrationFile
		Down bool
	}{mf, down})
	return errors.Join(err, f.Close())
}

// sanitizeName keeps lowercase letters and digits and joins the words
// separated by spaces, dashes or underscores with single underscores.
// Other characters are dropped.
func sanitizeName(name string) string {
	kept := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return ' '
		}
		return -1
	}, strings.ToLower(name))
	return strings.Join(strings.Fields(kept), "_")
}

// ListMigrations finds the NNNNNN_name.up.sql files at the root of fsys and
// sorts them by version. A missing directory holds no migrations.
func ListMigrations(fsys fs.FS) ([]Listed, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var found []Listed
	for _, e := range entries {
		stem, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if e.IsDir() || !ok {
			continue
		}
		num, label, ok := strings.Cut(stem, "_")
		if !ok {
			continue
		}
		if v, err := strconv.ParseUint(num, 10, 32); err == nil {
			found = append(found, Listed{Version: uint(v), Name: label})
		}
	}
	slices.SortFunc(found, func(a, b Listed) int { return cmp.Compare(a.Version, b.Version) })
	return found, nil
}
