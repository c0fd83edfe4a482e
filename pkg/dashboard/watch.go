package dashboard

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/pkg/scoreboard"
	"github.com/thunderstriders/lapcounter/pkg/utils/cache/loadercache"
)

// FileSource reads the leaderboard from a scoreboard file. The parsed records are
// cached per path until the file changes.
type FileSource struct {
	store *scoreboard.Store
	cache *loadercache.Cache[string, model.Snapshot]
	clock func() time.Time
}

func NewFileSource(store *scoreboard.Store) *FileSource {
	ret := &FileSource{store: store, clock: time.Now}
	ret.cache = loadercache.New(
		loadercache.WithLoader(func(_ context.Context, path string) (model.Snapshot, error) {
			records, err := ret.store.Load()
			if err != nil {
				return model.Snapshot{}, fmt.Errorf("load %s: %w", path, err)
			}
			return model.NewSnapshot(records, ret.clock()), nil
		}),
		loadercache.WithExpiration[string, model.Snapshot](0),
		loadercache.WithLogger[string, model.Snapshot](log.Default().Named("dashboard.cache")),
	)
	return ret
}

func (f *FileSource) Snapshot(ctx context.Context) (model.Snapshot, error) {
	return f.cache.Get(ctx, f.store.Path())
}

// Reload drops the cached state and reads the file again
func (f *FileSource) Reload(ctx context.Context) (model.Snapshot, error) {
	f.cache.Invalidate(f.store.Path())
	return f.Snapshot(ctx)
}

// Watch feeds the server with the file content now and after every change until ctx is done.
// The directory is watched since the store replaces the file on each write.
func Watch(ctx context.Context, src *FileSource, srv *Server) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	path := filepath.Clean(src.store.Path())
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	reload := func() {
		snap, err := src.Reload(ctx)
		if err != nil {
			log.Warn("could not read scoreboard", log.String("path", path), log.ErrorField(err))
			return
		}
		srv.Update(snap)
	}
	reload()
	log.Info("watching scoreboard", log.String("path", path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Debug("scoreboard changed", log.String("op", ev.Op.String()))
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", log.ErrorField(err))
		}
	}
}
