package config

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
)

// ReadDenyList reads one executable path per line. Blank lines and lines
// starting with "#" are ignored.
func ReadDenyList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open deny-list %q: %w", path, err)
	}
	defer f.Close()

	var paths []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, xerrors.Errorf("read deny-list %q: %w", path, err)
	}
	return paths, nil
}

// WatchDenyList calls fn with the contents of the deny-list file at path,
// then again every time the file is written, created or replaced, until ctx
// is done. The directory is watched so that editors replacing the file by
// rename are noticed. An unreadable file is logged and skipped.
func WatchDenyList(ctx context.Context, log slog.Logger, path string, fn func([]string)) error {
	paths, err := ReadDenyList(path)
	if err != nil {
		return err
	}
	fn(paths)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Errorf("create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return xerrors.Errorf("resolve %q: %w", path, err)
	}
	err = watcher.Add(filepath.Dir(abs))
	if err != nil {
		_ = watcher.Close()
		return xerrors.Errorf("watch %q: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}

				paths, err := ReadDenyList(abs)
				if err != nil {
					log.Warn(ctx, "failed to reload deny-list", slog.F("path", abs), slog.Error(err))
					continue
				}
				log.Info(ctx, "reloaded deny-list", slog.F("path", abs), slog.F("entries", len(paths)))
				fn(paths)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn(ctx, "deny-list watcher error", slog.Error(err))
			}
		}
	}()
	return nil
}
