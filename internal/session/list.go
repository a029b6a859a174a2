package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/matheus3301/duet/internal/lock"
)

// Info describes a session directory on disk.
type Info struct {
	Name    string     `json:"name"`
	Path    string     `json:"path"`
	Running bool       `json:"running"`
	Owner   lock.Owner `json:"owner"`
}

// List returns every session under BaseDir, sorted by name. A session counts
// as running when its lock names an owner and its socket exists.
func List() ([]Info, error) {
	entries, err := os.ReadDir(filepath.Join(BaseDir(), "sessions"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		info := Info{Name: e.Name(), Path: Dir(e.Name())}
		if owner, ok := lock.Inspect(info.Path); ok {
			info.Owner = owner
			_, serr := os.Stat(SocketPath(e.Name()))
			info.Running = serr == nil
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
