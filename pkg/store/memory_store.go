package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fileinasnap/pkg/domain"
)

// MemoryStore keeps metadata in-process. It backs tests and local runs
// without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile // key: user ID
	folders  map[string]domain.Folder
	files    map[string]domain.File
	keys     map[string]string // object key -> file ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]domain.Profile),
		folders:  make(map[string]domain.Folder),
		files:    make(map[string]domain.File),
		keys:     make(map[string]string),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) GetProfile(_ context.Context, userID string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return cloneProfile(p), ok, nil
}

func (m *MemoryStore) CreateProfile(_ context.Context, p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.profiles[p.UserID]; exists {
		return fmt.Errorf("%w: profile for %s", ErrDuplicate, p.UserID)
	}
	m.profiles[p.UserID] = cloneProfile(p)
	return nil
}

func (m *MemoryStore) UpdateProfile(_ context.Context, userID string, update domain.ProfileUpdate) (domain.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return domain.Profile{}, false, nil
	}
	if update.FullName != nil {
		p.FullName = *update.FullName
	}
	if update.Organization != nil {
		p.Organization = *update.Organization
	}
	if update.AvatarURL != nil {
		p.AvatarURL = *update.AvatarURL
	}
	if update.SubscriptionTier != nil {
		p.SubscriptionTier = *update.SubscriptionTier
	}
	if update.Metadata != nil {
		p.Metadata = update.Metadata
	}
	p.UpdatedAt = time.Now().UTC()
	m.profiles[userID] = cloneProfile(p)
	return cloneProfile(p), true, nil
}

func (m *MemoryStore) CreateFolder(_ context.Context, f domain.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.folders[f.ID]; exists {
		return fmt.Errorf("%w: folder %s", ErrDuplicate, f.ID)
	}
	f.FileCount = 0
	m.folders[f.ID] = f
	return nil
}

func (m *MemoryStore) GetFolder(_ context.Context, ownerID, id string) (domain.Folder, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.folders[id]
	if !ok || f.OwnerID != ownerID {
		return domain.Folder{}, false, nil
	}
	f.FileCount = m.countInFolderLocked(id)
	return f, true, nil
}

func (m *MemoryStore) ListFolders(_ context.Context, ownerID string) ([]domain.Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Folder, 0)
	for _, f := range m.folders {
		if f.OwnerID != ownerID {
			continue
		}
		f.FileCount = m.countInFolderLocked(f.ID)
		res = append(res, f)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) CountFolders(_ context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, f := range m.folders {
		if f.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteFolder(_ context.Context, ownerID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok || f.OwnerID != ownerID {
		return false, nil
	}
	for fileID, file := range m.files {
		if file.FolderID == id {
			delete(m.keys, file.ObjectKey)
			delete(m.files, fileID)
		}
	}
	delete(m.folders, id)
	return true, nil
}

func (m *MemoryStore) CreateFile(_ context.Context, f domain.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[f.ObjectKey]; exists {
		return fmt.Errorf("%w: object key %s", ErrDuplicate, f.ObjectKey)
	}
	if _, exists := m.files[f.ID]; exists {
		return fmt.Errorf("%w: file %s", ErrDuplicate, f.ID)
	}
	if _, ok := m.folders[f.FolderID]; !ok {
		return fmt.Errorf("folder %s does not exist", f.FolderID)
	}
	m.files[f.ID] = f
	m.keys[f.ObjectKey] = f.ID
	return nil
}

func (m *MemoryStore) GetFile(_ context.Context, ownerID, id string) (domain.File, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok || f.OwnerID != ownerID {
		return domain.File{}, false, nil
	}
	return f, true, nil
}

func (m *MemoryStore) ListFiles(_ context.Context, ownerID string, filter domain.FileFilter) ([]domain.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.File, 0)
	for _, f := range m.files {
		if f.OwnerID != ownerID {
			continue
		}
		if filter.FolderID != "" && f.FolderID != filter.FolderID {
			continue
		}
		res = append(res, f)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if limit := NormalizeLimit(filter.Limit); len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) CountFiles(_ context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, f := range m.files {
		if f.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SummarizeFiles(_ context.Context, ownerID string) (domain.FileSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary := domain.FileSummary{ByType: make(map[string]int)}
	for _, f := range m.files {
		if f.OwnerID != ownerID {
			continue
		}
		summary.Count++
		summary.TotalBytes += f.Bytes
		summary.ByType[MimeMajorType(f.Mime)]++
	}
	return summary, nil
}

func (m *MemoryStore) DeleteFile(_ context.Context, ownerID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok || f.OwnerID != ownerID {
		return false, nil
	}
	delete(m.keys, f.ObjectKey)
	delete(m.files, id)
	return true, nil
}

func (m *MemoryStore) countInFolderLocked(folderID string) int {
	n := 0
	for _, f := range m.files {
		if f.FolderID == folderID {
			n++
		}
	}
	return n
}

func cloneProfile(p domain.Profile) domain.Profile {
	if p.Metadata != nil {
		meta := make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			meta[k] = v
		}
		p.Metadata = meta
	}
	return p
}
