package process

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/ledgerops/ledger-network-runner/utils"
)

// followLog copies what gets appended to [path] past [offset] to [w],
// prefixed with [name]. The node keeps writing the file itself, so
// following ends with the runner without affecting the node. Copying
// stops once [done] is closed and the file is drained.
func followLog(path string, offset int64, w io.Writer, name string, attr color.Attribute, done <-chan struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return fmt.Errorf("couldn't watch %s: %w", path, err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		f.Close()
		return fmt.Errorf("couldn't watch %s: %w", path, err)
	}

	pr, pw := io.Pipe()
	utils.ColorAndPrepend(pr, w, name, attr)
	go func() {
		defer f.Close()
		defer watcher.Close()
		for {
			if _, err := io.Copy(pw, f); err != nil {
				pw.CloseWithError(err)
				return
			}
			select {
			case <-done:
				_, err := io.Copy(pw, f)
				pw.CloseWithError(err)
				return
			case _, ok := <-watcher.Events:
				if !ok {
					pw.Close()
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					err = nil
				}
				pw.CloseWithError(err)
				return
			}
		}
	}()
	return nil
}

// logEnd is where the next appended byte of [f] lands.
func logEnd(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
