package storage

import (
	"bufio"
	"os"
	"path/filepath"
)

// writeFileAtomic writes a file through a temporary sibling and renames it
// over path once the data is synced. A crash leaves either the old file or the
// new one, never a mix. It returns the number of bytes written.
func writeFileAtomic(path string, fill func(w *bufio.Writer) error) (int64, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return 0, fileErr("create", path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		return 0, fileErr("write", path, err)
	}
	if err := w.Flush(); err != nil {
		return 0, fileErr("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fileErr("sync", path, err)
	}
	st, err := tmp.Stat()
	if err != nil {
		return 0, fileErr("stat", path, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fileErr("close", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fileErr("rename", path, err)
	}
	committed = true
	syncDir(dir)
	return st.Size(), nil
}

// syncDir makes a rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
