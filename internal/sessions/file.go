package sessions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goatbytes/consoul/internal/models"
)

// FileStore persists one JSON file per session under dir. The filename is
// derived as urlsafe-base64(sessionID)+".json" so that two distinct IDs
// can never collide after sanitization — e.g. "alice:conv1" and
// "aliceconv1" would otherwise both sanitize to the same path. The
// original session_id is also recorded inside the file.
type FileStore struct {
	dir string
	ttl time.Duration
}

// NewFileStore builds a FileStore rooted at dir, creating it if missing.
func NewFileStore(dir string, ttl time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, ttl: ttl}, nil
}

func (f *FileStore) filename(sessionID string) string {
	return base64.URLEncoding.EncodeToString([]byte(sessionID)) + ".json"
}

func (f *FileStore) path(sessionID string) string {
	// filepath.Join + base64 encoding of the ID means no "..", "/", or
	// absolute-path fragment from sessionID can ever reach the
	// filesystem: the encoded name is always a single safe path segment.
	return filepath.Join(f.dir, f.filename(sessionID))
}

func (f *FileStore) Save(_ context.Context, state *models.Session) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	target := f.path(state.SessionID)
	tmp := target + ".tmp-" + base64.RawURLEncoding.EncodeToString([]byte(time.Now().String()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	// Same-directory rename is atomic on POSIX filesystems: no partial
	// file can be observed at target.
	return os.Rename(tmp, target)
}

func (f *FileStore) Load(_ context.Context, sessionID string) (*models.Session, error) {
	path := f.path(sessionID)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if f.ttl > 0 && time.Since(info.ModTime()) > f.ttl {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state models.Session
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (f *FileStore) Delete(_ context.Context, sessionID string) error {
	err := os.Remove(f.path(sessionID))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileStore) List(_ context.Context, namespace string, limit, offset int) ([]string, error) {
	if limit == 0 {
		return []string{}, nil
	}
	dirEntries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	type item struct {
		id      string
		modTime time.Time
	}
	var items []item
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		encoded := strings.TrimSuffix(de.Name(), ".json")
		raw, err := base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		id := string(raw)
		if namespace != "" && !strings.HasPrefix(id, namespace) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		items = append(items, item{id: id, modTime: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].modTime.After(items[j].modTime) })

	if offset >= len(items) {
		return []string{}, nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out, nil
}
