package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const diskExt = ".upd"

// Disk keeps one file per batch in a directory.
type Disk struct {
	dir string
}

var _ Backend = (*Disk)(nil)

// NewDisk creates the directory if needed.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Disk{dir: dir}, nil
}

func (d *Disk) path(generation uint64) string {
	return filepath.Join(d.dir, fmt.Sprintf("%020d%s", generation, diskExt))
}

// Put writes through a temporary file so that readers never see a partial
// batch.
func (d *Disk) Put(ctx context.Context, generation uint64, data []byte) error {
	tmp, err := os.CreateTemp(d.dir, ".upd-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.path(generation))
}

func (d *Disk) Get(ctx context.Context, generation uint64) ([]byte, error) {
	data, err := os.ReadFile(d.path(generation))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (d *Disk) Delete(ctx context.Context, generation uint64) error {
	err := os.Remove(d.path(generation))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (d *Disk) List(ctx context.Context) ([]uint64, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var out []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, diskExt) {
			continue
		}
		g, err := strconv.ParseUint(strings.TrimSuffix(name, diskExt), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}
