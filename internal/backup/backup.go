// Package backup archives the data directory for off-host safekeeping.
package backup

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Archiver struct {
	dataDir string
	destDir string
}

func New(dataDir, destDir string) (*Archiver, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create backup directory")
	}
	return &Archiver{dataDir: dataDir, destDir: destDir}, nil
}

// Create writes a zip of every JSON document in the data directory and
// returns the archive path. Lock files are skipped.
func (a *Archiver) Create() (string, error) {
	path := filepath.Join(a.destDir,
		"backup_"+time.Now().Format("2006-01-02_15-04-05")+".zip")

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to create backup archive")
	}
	defer f.Close()

	w := zip.NewWriter(f)
	err = filepath.Walk(a.dataDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, ".lock") || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(a.dataDir, p)
		if err != nil {
			return err
		}
		entry, err := w.Create(rel)
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(entry, src)
		return err
	})
	if err != nil {
		w.Close()
		return "", errors.Wrap(err, "failed to archive data directory")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finalize backup archive")
	}
	return path, nil
}
