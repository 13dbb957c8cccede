package util

/*
o365scan — resumable Microsoft 365 MX classification of address lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// DefaultWriteBufferSize is the bufio size used by WriteFileAtomic.
const DefaultWriteBufferSize = 64 * 1024

// LockPath returns the sidecar lock file used to guard path.
func LockPath(path string) string {
	return path + ".lock"
}

// WriteFileAtomic replaces path with whatever write produces. Readers see
// either the previous file or the complete new one, never a partial write.
//
// Parameters:
//
//	path:  destination file; its directory must exist.
//	perm:  permissions of the new file (subject to the umask).
//	write: fills the file through a buffered writer. A non-nil error
//	       abandons the write and leaves path untouched.
//
// Returns:
//
//	The first error from staging, write, replace or the directory sync.
//
// The staging file lives next to path so the rename stays on one filesystem.
// After the replace, the parent directory is synced so the rename survives a
// crash.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(dir),
		renameio.WithPermissions(perm))
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	defer pf.Cleanup() //nolint:errcheck

	bw := bufio.NewWriterSize(pf, DefaultWriteBufferSize)
	if err := write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", pf.Name(), err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	if err := SyncDir(dir); err != nil && !errors.Is(err, errors.ErrUnsupported) {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}

// WriteBytesAtomic is WriteFileAtomic for a ready-made buffer.
func WriteBytesAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteFileAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
