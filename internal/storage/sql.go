package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"checkinbot/internal/domain"
	logx "checkinbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store on database/sql. Queries are written with "?"
// placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect dialect
	wrap    func(op string, err error) error

	opCount    atomic.Uint64
	pruneEvery uint64
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *sqlStore {
	s := &sqlStore{db: db, log: log, dialect: d, pruneEvery: 500}
	s.wrap = domain.Persistence
	return s
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.wrap("migrate", err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// rebind turns "?" placeholders into "$n" for postgres.
func (s *sqlStore) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) UpsertGroup(ctx context.Context, g domain.Group) (domain.Group, error) {
	created := g.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO chat_groups(id, title, start_date, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE chat_groups.title END`,
		g.ID, g.Title, g.StartDate.String(), created.UnixMilli(),
	)
	if err != nil {
		return domain.Group{}, s.wrap("upsert group", err)
	}
	out, _, err := s.GetGroup(ctx, g.ID)
	return out, err
}

func (s *sqlStore) SetStartDate(ctx context.Context, groupID int64, d domain.Date) (domain.Group, error) {
	_, err := s.exec(ctx,
		`INSERT INTO chat_groups(id, title, start_date, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET start_date = excluded.start_date`,
		groupID, "", d.String(), time.Now().UnixMilli(),
	)
	if err != nil {
		return domain.Group{}, s.wrap("set start date", err)
	}
	out, _, err := s.GetGroup(ctx, groupID)
	return out, err
}

func scanGroup(sc interface{ Scan(...any) error }) (domain.Group, error) {
	var (
		g       domain.Group
		start   string
		created int64
	)
	if err := sc.Scan(&g.ID, &g.Title, &start, &created); err != nil {
		return domain.Group{}, err
	}
	if start != "" {
		d, err := domain.ParseDate(start)
		if err != nil {
			return domain.Group{}, err
		}
		g.StartDate = d
	}
	g.CreatedAt = time.UnixMilli(created)
	return g, nil
}

func (s *sqlStore) SetTagPrefix(ctx context.Context, groupID int64, p domain.PeriodType, prefix string) (domain.Group, error) {
	_, err := s.exec(ctx,
		`INSERT INTO chat_groups(id, title, start_date, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		groupID, "", "", time.Now().UnixMilli(),
	)
	if err != nil {
		return domain.Group{}, s.wrap("set tag prefix", err)
	}
	if prefix == "" {
		_, err = s.exec(ctx, `DELETE FROM group_tags WHERE group_id = ? AND period = ?`, groupID, string(p))
	} else {
		_, err = s.exec(ctx,
			`INSERT INTO group_tags(group_id, period, prefix) VALUES(?,?,?)
			 ON CONFLICT(group_id, period) DO UPDATE SET prefix = excluded.prefix`,
			groupID, string(p), prefix,
		)
	}
	if err != nil {
		return domain.Group{}, s.wrap("set tag prefix", err)
	}
	out, _, err := s.GetGroup(ctx, groupID)
	return out, err
}

// loadTagPrefixes fills the overrides of the groups in byID. A zero
// groupID loads every group.
func (s *sqlStore) loadTagPrefixes(ctx context.Context, groupID int64, byID map[int64]*domain.Group) error {
	q, args := `SELECT group_id, period, prefix FROM group_tags`, []any(nil)
	if groupID != 0 {
		q, args = q+` WHERE group_id = ?`, []any{groupID}
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id             int64
			period, prefix string
		)
		if err := rows.Scan(&id, &period, &prefix); err != nil {
			return err
		}
		if g := byID[id]; g != nil {
			*g = g.WithTagPrefix(domain.PeriodType(period), prefix)
		}
	}
	return rows.Err()
}

func (s *sqlStore) GetGroup(ctx context.Context, id int64) (domain.Group, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, title, start_date, created_at FROM chat_groups WHERE id = ?`), id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, false, nil
	}
	if err != nil {
		return domain.Group{}, false, s.wrap("get group", err)
	}
	if err := s.loadTagPrefixes(ctx, id, map[int64]*domain.Group{id: &g}); err != nil {
		return domain.Group{}, false, s.wrap("get group tags", err)
	}
	return g, true, nil
}

func (s *sqlStore) ListGroups(ctx context.Context) ([]domain.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, start_date, created_at FROM chat_groups ORDER BY id`)
	if err != nil {
		return nil, s.wrap("list groups", err)
	}
	defer rows.Close()
	var out []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, s.wrap("list groups", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list groups", err)
	}
	byID := make(map[int64]*domain.Group, len(out))
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	if err := s.loadTagPrefixes(ctx, 0, byID); err != nil {
		return nil, s.wrap("list group tags", err)
	}
	return out, nil
}

func (s *sqlStore) UpsertMember(ctx context.Context, m domain.Member) (bool, error) {
	joined := m.JoinedAt
	if joined.IsZero() {
		joined = time.Now()
	}
	res, err := s.exec(ctx,
		`INSERT INTO members(group_id, user_id, username, full_name, joined_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(group_id, user_id) DO NOTHING`,
		m.GroupID, m.UserID, m.Username, m.FullName, joined.UnixMilli(),
	)
	if err != nil {
		return false, s.wrap("insert member", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	_, err = s.exec(ctx,
		`UPDATE members SET username = ?, full_name = ? WHERE group_id = ? AND user_id = ?`,
		m.Username, m.FullName, m.GroupID, m.UserID,
	)
	return false, s.wrap("update member", err)
}

func scanMember(sc interface{ Scan(...any) error }) (domain.Member, error) {
	var (
		m      domain.Member
		joined int64
	)
	if err := sc.Scan(&m.GroupID, &m.UserID, &m.Username, &m.FullName, &joined); err != nil {
		return domain.Member{}, err
	}
	m.JoinedAt = time.UnixMilli(joined)
	return m, nil
}

func (s *sqlStore) GetMember(ctx context.Context, groupID, userID int64) (domain.Member, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT group_id, user_id, username, full_name, joined_at FROM members WHERE group_id = ? AND user_id = ?`),
		groupID, userID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Member{}, false, nil
	}
	if err != nil {
		return domain.Member{}, false, s.wrap("get member", err)
	}
	return m, true, nil
}

func (s *sqlStore) RemoveMember(ctx context.Context, groupID, userID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, s.wrap("remove member", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM members WHERE group_id = ? AND user_id = ?`), groupID, userID)
	if err != nil {
		return false, s.wrap("remove member", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM compliance_records WHERE group_id = ? AND user_id = ?`), groupID, userID); err != nil {
		return false, s.wrap("remove member records", err)
	}
	if err := tx.Commit(); err != nil {
		return false, s.wrap("remove member", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) ListMembers(ctx context.Context, groupID int64) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT group_id, user_id, username, full_name, joined_at FROM members WHERE group_id = ? ORDER BY user_id`), groupID)
	if err != nil {
		return nil, s.wrap("list members", err)
	}
	defer rows.Close()
	var out []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, s.wrap("list members", err)
		}
		out = append(out, m)
	}
	return out, s.wrap("list members", rows.Err())
}

func (s *sqlStore) UpsertRecord(ctx context.Context, r domain.ComplianceRecord) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO compliance_records(group_id, period, period_date, user_id, state, updated_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(group_id, period, period_date, user_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		r.Instance.GroupID, string(r.Instance.Period), r.Instance.Date.String(), r.UserID, r.State.String(), r.UpdatedAt.UnixMilli(),
	)
	return s.wrap("upsert record", err)
}

func (s *sqlStore) InsertRecordIfAbsent(ctx context.Context, r domain.ComplianceRecord) (bool, error) {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	res, err := s.exec(ctx,
		`INSERT INTO compliance_records(group_id, period, period_date, user_id, state, updated_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(group_id, period, period_date, user_id) DO NOTHING`,
		r.Instance.GroupID, string(r.Instance.Period), r.Instance.Date.String(), r.UserID, r.State.String(), r.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return false, s.wrap("insert record", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *sqlStore) ListRecords(ctx context.Context, inst domain.PeriodInstance) ([]domain.ComplianceRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT user_id, state, updated_at FROM compliance_records
		 WHERE group_id = ? AND period = ? AND period_date = ? ORDER BY user_id`),
		inst.GroupID, string(inst.Period), inst.Date.String())
	if err != nil {
		return nil, s.wrap("list records", err)
	}
	defer rows.Close()
	var out []domain.ComplianceRecord
	for rows.Next() {
		var (
			r       domain.ComplianceRecord
			st      string
			updated int64
		)
		if err := rows.Scan(&r.UserID, &st, &updated); err != nil {
			return nil, s.wrap("list records", err)
		}
		r.Instance = inst
		r.State = domain.ParseComplianceState(st)
		r.UpdatedAt = time.UnixMilli(updated)
		out = append(out, r)
	}
	return out, s.wrap("list records", rows.Err())
}

func (s *sqlStore) ClaimEscalation(ctx context.Context, ev domain.EscalationEvent) (bool, error) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	res, err := s.exec(ctx,
		`INSERT INTO escalation_events(group_id, period, period_date, tier, fired_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(group_id, period, period_date, tier) DO NOTHING`,
		ev.Instance.GroupID, string(ev.Instance.Period), ev.Instance.Date.String(), string(ev.Tier), ev.At.UnixMilli(),
	)
	if err != nil {
		return false, s.wrap("claim escalation", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *sqlStore) HasEscalation(ctx context.Context, inst domain.PeriodInstance, tier domain.Tier) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM escalation_events WHERE group_id = ? AND period = ? AND period_date = ? AND tier = ?`),
		inst.GroupID, string(inst.Period), inst.Date.String(), string(tier)).Scan(&n)
	if err != nil {
		return false, s.wrap("has escalation", err)
	}
	return n > 0, nil
}

func (s *sqlStore) AddFine(ctx context.Context, f domain.Fine) (bool, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	res, err := s.exec(ctx,
		`INSERT INTO fines(group_id, user_id, period_date, period, amount, created_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(group_id, user_id, period_date, period) DO NOTHING`,
		f.GroupID, f.UserID, f.Date.String(), string(f.Period), f.Amount, f.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, s.wrap("add fine", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *sqlStore) ListFines(ctx context.Context, groupID int64) ([]domain.Fine, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT user_id, period_date, period, amount, created_at FROM fines WHERE group_id = ?`), groupID)
	if err != nil {
		return nil, s.wrap("list fines", err)
	}
	defer rows.Close()
	var out []domain.Fine
	for rows.Next() {
		var (
			f       domain.Fine
			date    string
			period  string
			created int64
		)
		if err := rows.Scan(&f.UserID, &date, &period, &f.Amount, &created); err != nil {
			return nil, s.wrap("list fines", err)
		}
		d, err := domain.ParseDate(date)
		if err != nil {
			return nil, s.wrap("list fines", err)
		}
		f.GroupID, f.Date, f.Period = groupID, d, domain.PeriodType(period)
		f.CreatedAt = time.UnixMilli(created)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list fines", err)
	}
	sortFines(out)
	return out, nil
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.exec(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return s.wrap("put dedup", err)
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT until FROM dedup WHERE key = ?`), key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, s.wrap("get dedup", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqlStore) pruneExpired(ctx context.Context) error {
	_, err := s.exec(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO audit(at, actor_id, group_id, action, target, detail) VALUES(?,?,?,?,?,?)`,
		e.At.UnixMilli(), e.ActorID, e.GroupID, e.Action, nullStr(e.Target), nullStr(e.Detail),
	)
	return s.wrap("append audit", err)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
