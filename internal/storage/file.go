package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "bioscout/pkg/logx"
)

// fileStore keeps everything in plain files.
//
// Files:
//   - <prefix>.audit.jsonl             (append-only JSON Lines)
//   - <prefix>.tenants.json            (rewritten on every change)
//   - <prefix>.cooldown.snapshot.json  (periodic snapshot)
//   - <prefix>.cooldown.journal.jsonl  (append-only journal)
//
// The cooldown journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	auditFile *os.File

	tenantsPath string
	tenants     map[string]Tenant

	cooldownSnapshotPath string
	cooldownJournalFile  *os.File
	cooldowns            map[string]int64 // unix milli

	cooldownWrites int
}

type cooldownRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	tenants := map[string]Tenant{}
	if err := loadJSON(prefix+".tenants.json", &tenants); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = af.Close()
		return nil, err
	}

	s := &fileStore{
		log:                  log,
		now:                  time.Now,
		auditFile:            af,
		tenantsPath:          prefix + ".tenants.json",
		tenants:              tenants,
		cooldownSnapshotPath: prefix + ".cooldown.snapshot.json",
		cooldowns:            map[string]int64{},
	}

	_ = loadJSON(s.cooldownSnapshotPath, &s.cooldowns)
	_ = replayCooldownJournal(prefix+".cooldown.journal.jsonl", s.cooldowns)
	s.pruneLocked()

	jf, err := os.OpenFile(prefix+".cooldown.journal.jsonl", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	s.cooldownJournalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.cooldownJournalFile != nil {
		err2 = s.cooldownJournalFile.Close()
		s.cooldownJournalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutTenant(ctx context.Context, t Tenant) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("tenant id is required")
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.tenants[t.ID]
	s.tenants[t.ID] = t
	if err := writeJSONAtomic(s.tenantsPath, s.tenants); err != nil {
		if had {
			s.tenants[t.ID] = prev
		} else {
			delete(s.tenants, t.ID)
		}
		return err
	}
	return nil
}

func (s *fileStore) GetTenant(ctx context.Context, id string) (Tenant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	return t, ok, nil
}

func (s *fileStore) DeleteTenant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[id]; !ok {
		return nil
	}
	delete(s.tenants, id)
	return writeJSONAtomic(s.tenantsPath, s.tenants)
}

func (s *fileStore) ListTenants(ctx context.Context) ([]Tenant, error) {
	s.mu.Lock()
	out := make([]Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) CheckCooldown(ctx context.Context, actor int64, action string, window time.Duration) (Cooldown, error) {
	if window <= 0 {
		return Cooldown{}, nil
	}
	key := cooldownKey(actor, action)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cooldownJournalFile == nil {
		return Cooldown{}, errors.New("cooldown journal closed")
	}
	if until, ok := s.cooldowns[key]; ok {
		if left := time.UnixMilli(until).Sub(now); left > 0 {
			return Cooldown{OnCooldown: true, Remaining: left}, nil
		}
	}

	ms := now.Add(window).UnixMilli()
	s.cooldowns[key] = ms
	if err := json.NewEncoder(s.cooldownJournalFile).Encode(cooldownRecord{Key: key, Until: ms}); err != nil {
		return Cooldown{}, err
	}
	s.cooldownWrites++
	if s.cooldownWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("cooldown compact failed", logx.Err(err))
		}
	}
	return Cooldown{}, nil
}

func (s *fileStore) PruneCooldowns(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.pruneLocked()
	if s.cooldownJournalFile == nil {
		return n, nil
	}
	return n, s.compactLocked()
}

func (s *fileStore) pruneLocked() int {
	now := s.now().UnixMilli()
	n := 0
	for k, v := range s.cooldowns {
		if v < now {
			delete(s.cooldowns, k)
			n++
		}
	}
	return n
}

func (s *fileStore) compactLocked() error {
	s.pruneLocked()
	if err := writeJSONAtomic(s.cooldownSnapshotPath, s.cooldowns); err != nil {
		return err
	}
	if err := s.cooldownJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.cooldownJournalFile.Seek(0, 2)
	return err
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadJSON(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

func replayCooldownJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r cooldownRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}
