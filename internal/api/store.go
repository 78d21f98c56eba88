package api

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/silencecat2007/pokepark-kanto/internal/aggregate"
	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

// SnapshotStore 提供最新的快照。
type SnapshotStore interface {
	Load(ctx context.Context) (model.Snapshot, error)
}

// FileStore 从快照文件读取，文件修改时间不变时复用上次解析结果。
type FileStore struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	cached  model.Snapshot
	loaded  bool
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(_ context.Context) (model.Snapshot, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return model.Snapshot{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return f.cached, nil
	}

	snap, err := aggregate.ReadFile(f.path)
	if err != nil {
		return model.Snapshot{}, err
	}
	f.cached, f.modTime, f.size, f.loaded = snap, info.ModTime(), info.Size(), true
	return snap, nil
}
