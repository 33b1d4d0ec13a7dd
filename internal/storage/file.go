package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "checkinbot/pkg/logx"
)

// fileStore keeps the full state in memory and makes it durable with:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only mutations since the snapshot)
//   - <prefix>.audit.jsonl   (append-only audit trail)
//
// The journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	*memStore

	log logx.Logger

	fmu          sync.Mutex
	auditFile    *os.File
	journalFile  *os.File
	snapshotPath string
	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := newState()
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"
	if err := loadSnapshot(snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	n, err := replayJournal(journalPath, st)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	st.pruneDedup(time.Now())

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	fs := &fileStore{
		memStore:     &memStore{st: st, now: time.Now},
		log:          log,
		auditFile:    af,
		journalFile:  jf,
		snapshotPath: snapPath,
		compactEvery: 1000,
	}
	fs.memStore.journal = fs.appendJournal
	log.Info("file storage opened", logx.String("path", prefix), logx.Int("groups", len(st.Groups)), logx.Int("replayed", n))
	return fs, nil
}

// appendJournal runs with memStore.mu held.
func (s *fileStore) appendJournal(o op) error {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(o); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		// The op is applied after this returns, so the snapshot must include it.
		s.memStore.st.apply(o)
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	s.memStore.st.pruneDedup(time.Now())
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.memStore.st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.fmu.Lock()
	defer s.fmu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	_ = s.memStore.Close()
	s.memStore.mu.Lock()
	defer s.memStore.mu.Unlock()
	s.fmu.Lock()
	defer s.fmu.Unlock()

	var errs []error
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func loadSnapshot(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	loaded := newState()
	if err := json.NewDecoder(f).Decode(loaded); err != nil {
		return err
	}
	*st = *loaded
	return nil
}

func replayJournal(path string, st *state) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var o op
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil || o.Kind == "" {
			continue
		}
		if !o.valid() {
			continue
		}
		st.apply(o)
		n++
	}
	return n, sc.Err()
}

func (o op) valid() bool {
	switch o.Kind {
	case opGroup:
		return o.Group != nil
	case opMember:
		return o.Member != nil
	case opRecord:
		return o.Record != nil
	case opEscalation:
		return o.Escalation != nil
	case opFine:
		return o.Fine != nil
	case opRemoveMember, opDedup:
		return true
	}
	return false
}
