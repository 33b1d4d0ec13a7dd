package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"checkinbot/internal/domain"
	logx "checkinbot/pkg/logx"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Store { return NewMemory() }},
		{"file", func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
			require.NoError(t, err)
			return st
		}},
		{"sqlite", func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db"), BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			return st
		}},
	}
}

var jan2 = domain.Date{Year: 2024, Month: time.January, Day: 2}

func TestStoreConformance(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			st := b.open(t)
			defer st.Close()
			ctx := context.Background()

			t.Run("groups", func(t *testing.T) { testGroups(t, ctx, st) })
			t.Run("members", func(t *testing.T) { testMembers(t, ctx, st) })
			t.Run("records", func(t *testing.T) { testRecords(t, ctx, st) })
			t.Run("escalations", func(t *testing.T) { testEscalations(t, ctx, st) })
			t.Run("fines", func(t *testing.T) { testFines(t, ctx, st) })
			t.Run("dedup", func(t *testing.T) { testDedup(t, ctx, st) })
			require.NoError(t, st.AppendAudit(ctx, AuditEntry{ActorID: 1, GroupID: -100, Action: "setstartdate", Target: "2024-01-01"}))
			require.NoError(t, st.Ping(ctx))
		})
	}
}

func testGroups(t *testing.T, ctx context.Context, st Store) {
	g, err := st.UpsertGroup(ctx, domain.Group{ID: -100, Title: "Course"})
	require.NoError(t, err)
	require.False(t, g.HasStart())

	g, err = st.SetStartDate(ctx, -100, domain.Date{Year: 2024, Month: time.January, Day: 1})
	require.NoError(t, err)
	require.Equal(t, "2024-01-01", g.StartDate.String())

	// Re-upsert keeps the start date and an empty title keeps the old one.
	g, err = st.UpsertGroup(ctx, domain.Group{ID: -100})
	require.NoError(t, err)
	require.Equal(t, "Course", g.Title)
	require.True(t, g.HasStart())

	_, err = st.SetStartDate(ctx, -200, jan2)
	require.NoError(t, err)

	g, err = st.SetTagPrefix(ctx, -100, domain.PeriodMorning, "#утро")
	require.NoError(t, err)
	require.Equal(t, map[domain.PeriodType]string{domain.PeriodMorning: "#утро"}, g.TagPrefixes)
	require.True(t, g.HasStart(), "tag override must not touch the start date")
	_, err = st.SetTagPrefix(ctx, -100, domain.PeriodMorning, "#подъём")
	require.NoError(t, err)

	groups, err := st.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, int64(-200), groups[0].ID)
	require.Empty(t, groups[0].TagPrefixes)
	require.Equal(t, "#подъём", groups[1].TagPrefixes[domain.PeriodMorning])

	g, err = st.SetTagPrefix(ctx, -100, domain.PeriodMorning, "")
	require.NoError(t, err)
	require.Empty(t, g.TagPrefixes)

	_, ok, err := st.GetGroup(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)
}

func testMembers(t *testing.T, ctx context.Context, st Store) {
	created, err := st.UpsertMember(ctx, domain.Member{GroupID: -100, UserID: 2, Username: "bob"})
	require.NoError(t, err)
	require.True(t, created)

	created, err = st.UpsertMember(ctx, domain.Member{GroupID: -100, UserID: 2, Username: "bobby", FullName: "Bob"})
	require.NoError(t, err)
	require.False(t, created)

	m, ok, err := st.GetMember(ctx, -100, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bobby", m.Username)
	require.Equal(t, "Bob", m.FullName)

	_, err = st.UpsertMember(ctx, domain.Member{GroupID: -100, UserID: 1, FullName: "Alice"})
	require.NoError(t, err)

	ms, err := st.ListMembers(ctx, -100)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	require.Equal(t, int64(1), ms[0].UserID)
}

func testRecords(t *testing.T, ctx context.Context, st Store) {
	inst := domain.PeriodInstance{GroupID: -100, Period: domain.PeriodMorning, Date: jan2}

	ok, err := st.InsertRecordIfAbsent(ctx, domain.ComplianceRecord{Instance: inst, UserID: 1, State: domain.StateNotSubmitted})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.InsertRecordIfAbsent(ctx, domain.ComplianceRecord{Instance: inst, UserID: 1, State: domain.StateSubmitted})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.UpsertRecord(ctx, domain.ComplianceRecord{Instance: inst, UserID: 2, State: domain.StateSubmitted}))
	require.NoError(t, st.UpsertRecord(ctx, domain.ComplianceRecord{Instance: inst, UserID: 1, State: domain.StateSubmitted}))

	recs, err := st.ListRecords(ctx, inst)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		require.Equal(t, domain.StateSubmitted, r.State)
		require.Equal(t, inst, r.Instance)
	}

	// Removing a member cascades to its records.
	removed, err := st.RemoveMember(ctx, -100, 2)
	require.NoError(t, err)
	require.True(t, removed)
	recs, err = st.ListRecords(ctx, inst)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int64(1), recs[0].UserID)

	removed, err = st.RemoveMember(ctx, -100, 2)
	require.NoError(t, err)
	require.False(t, removed)
}

func testEscalations(t *testing.T, ctx context.Context, st Store) {
	inst := domain.PeriodInstance{GroupID: -100, Period: domain.PeriodEvening, Date: jan2}
	ev := domain.EscalationEvent{Instance: inst, Tier: domain.TierT0}

	ok, err := st.ClaimEscalation(ctx, ev)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.ClaimEscalation(ctx, ev)
	require.NoError(t, err)
	require.False(t, ok)

	has, err := st.HasEscalation(ctx, inst, domain.TierT0)
	require.NoError(t, err)
	require.True(t, has)
	has, err = st.HasEscalation(ctx, inst, domain.TierT15)
	require.NoError(t, err)
	require.False(t, has)
}

func testFines(t *testing.T, ctx context.Context, st Store) {
	f := domain.Fine{GroupID: -100, UserID: 1, Date: jan2, Period: domain.PeriodEvening, Amount: 250}
	ok, err := st.AddFine(ctx, f)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.AddFine(ctx, f)
	require.NoError(t, err)
	require.False(t, ok)

	fs, err := st.ListFines(ctx, -100)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	require.Equal(t, 250, fs[0].Amount)
	require.Equal(t, jan2, fs[0].Date)
}

func testDedup(t *testing.T, ctx context.Context, st Store) {
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, st.PutDedup(ctx, "k1", until))
	got, ok, err := st.GetDedup(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(until))

	_, ok, err = st.GetDedup(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	cfg := Config{Driver: "file", Path: path}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	_, err = st.SetStartDate(ctx, -100, jan2)
	require.NoError(t, err)
	_, err = st.SetTagPrefix(ctx, -100, domain.PeriodWeekly, "#итоги")
	require.NoError(t, err)
	_, err = st.UpsertMember(ctx, domain.Member{GroupID: -100, UserID: 5, Username: "m"})
	require.NoError(t, err)
	inst := domain.PeriodInstance{GroupID: -100, Period: domain.PeriodWeekly, Date: jan2}
	_, err = st.ClaimEscalation(ctx, domain.EscalationEvent{Instance: inst, Tier: domain.TierT60})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	g, ok, err := st.GetGroup(ctx, -100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, jan2, g.StartDate)
	require.Equal(t, "#итоги", g.TagPrefixes[domain.PeriodWeekly])

	claimed, err := st.ClaimEscalation(ctx, domain.EscalationEvent{Instance: inst, Tier: domain.TierT60})
	require.NoError(t, err)
	require.False(t, claimed)

	_, ok, err = st.GetMember(ctx, -100, 5)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRebind(t *testing.T) {
	t.Parallel()

	s := &sqlStore{dialect: dialectPostgres}
	require.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	s.dialect = dialectSQLite
	require.Equal(t, "x = ?", s.rebind("x = ?"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Driver: "mysql"}, logx.Nop())
	require.Error(t, err)
}
