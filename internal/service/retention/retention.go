package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"feeder/internal/logger"
	"feeder/internal/repository"

	"github.com/dustin/go-humanize"
)

// Policy caps the total size of the files in a directory sharing a prefix and suffix.
type Policy struct {
	Prefix    string
	Suffix    string
	SizeLimit int64 // bytes
}

func (p Policy) String() string {
	return p.Prefix + "*" + p.Suffix
}

func (p Policy) matches(name string) bool {
	return strings.HasPrefix(name, p.Prefix) && strings.HasSuffix(name, p.Suffix)
}

// File is one recording on disk.
type File struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Result summarizes one pass over a policy.
type Result struct {
	Policy  Policy
	Deleted []File
	Failed  []File
	Freed   int64
	Kept    int64
}

// Manager enforces size caps on the recordings directory.
type Manager struct {
	dir        string
	policies   []Policy
	recordings repository.RecordingRepository
	logger     *logger.Logger
	remove     func(path string) error
}

// NewManager creates a Manager; recordings may be nil.
func NewManager(dir string, policies []Policy, recordings repository.RecordingRepository, logger *logger.Logger) *Manager {
	return &Manager{
		dir:        dir,
		policies:   policies,
		recordings: recordings,
		logger:     logger,
		remove:     os.Remove,
	}
}

func (m *Manager) Policies() []Policy {
	return m.policies
}

// List returns the files matching p, oldest first by modification time.
func (m *Manager) List(p Policy) ([]File, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", m.dir, err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !p.matches(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, File{
			Path:    filepath.Join(m.dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Path < files[j].Path
		}
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

// Select splits files (oldest first) into the ones that fit under limit and the
// ones to delete. Walking from the newest, files are kept until the next one
// would push the total over limit; it and everything older go. The newest file
// is always kept, even alone over the limit.
func Select(files []File, limit int64) (keep, remove []File) {
	var total int64
	cut := -1
	for i := len(files) - 1; i >= 0; i-- {
		if i != len(files)-1 && total+files[i].Size > limit {
			cut = i
			break
		}
		total += files[i].Size
	}
	return files[cut+1:], files[:cut+1]
}

// Size is the total size of the files matching p.
func (m *Manager) Size(p Policy) (int64, error) {
	files, err := m.List(p)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

// Plan lists, per policy, the files Run would delete, without deleting anything.
func (m *Manager) Plan() (map[Policy][]File, error) {
	plan := make(map[Policy][]File, len(m.policies))
	for _, p := range m.policies {
		files, err := m.List(p)
		if err != nil {
			return nil, err
		}
		_, remove := Select(files, p.SizeLimit)
		plan[p] = remove
	}
	return plan, nil
}

// Run enforces every policy. It is safe to call on every tick. A failed delete
// is logged and the batch continues; only a directory listing error is returned.
func (m *Manager) Run() ([]Result, error) {
	results := make([]Result, 0, len(m.policies))
	for _, p := range m.policies {
		res, err := m.enforce(p)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (m *Manager) enforce(p Policy) (Result, error) {
	res := Result{Policy: p}

	files, err := m.List(p)
	if err != nil {
		return res, err
	}
	keep, remove := Select(files, p.SizeLimit)
	for _, f := range keep {
		res.Kept += f.Size
	}
	if len(remove) == 0 {
		return res, nil
	}

	for _, f := range remove {
		if err := m.remove(f.Path); err != nil && !os.IsNotExist(err) {
			m.logger.Error("Failed to delete %s: %v", f.Path, err)
			res.Failed = append(res.Failed, f)
			continue
		}
		res.Deleted = append(res.Deleted, f)
		res.Freed += f.Size

		if m.recordings != nil {
			if err := m.recordings.DeleteByPath(f.Path); err != nil {
				m.logger.Warning("Failed to drop %s from catalogue: %v", f.Path, err)
			}
		}
	}

	if len(res.Deleted) > 0 {
		m.logger.Info("🗑️ Retention %s: deleted %d file(s), freed %s, %s of %s kept",
			p, len(res.Deleted), humanize.IBytes(uint64(res.Freed)),
			humanize.IBytes(uint64(res.Kept)), humanize.IBytes(uint64(p.SizeLimit)))
	}
	if len(res.Failed) > 0 {
		m.logger.Warning("Retention %s: %d file(s) could not be deleted, cap may be exceeded", p, len(res.Failed))
	}
	return res, nil
}
