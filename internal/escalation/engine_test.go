package escalation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"checkinbot/internal/clock"
	"checkinbot/internal/compliance"
	"checkinbot/internal/domain"
	"checkinbot/internal/eventbus"
	"checkinbot/internal/storage"
	"checkinbot/pkg/logx"
)

const gid = int64(-777)

type sent struct {
	group int64
	text  string
}

type fakeDispatcher struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (d *fakeDispatcher) Send(_ context.Context, groupID int64, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.msgs = append(d.msgs, sent{groupID, text})
	return nil
}

func (d *fakeDispatcher) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.msgs))
	for _, m := range d.msgs {
		out = append(out, m.text)
	}
	return out
}

type fixture struct {
	eng     *Engine
	tracker *compliance.Tracker
	store   storage.Store
	out     *fakeDispatcher
	clock   *clock.Manual
	bus     *eventbus.MemBus
	loc     *time.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	st := storage.NewMemory()
	_, err = st.SetStartDate(context.Background(), gid, domain.Date{Year: 2024, Month: time.January, Day: 1})
	require.NoError(t, err)

	course := domain.DefaultCourse(loc)
	clk := clock.NewManual(time.Date(2024, time.January, 2, 9, 0, 0, 0, loc))
	bus := eventbus.New()
	tr := compliance.NewTracker(st, course, clk, bus, logx.Nop())
	out := &fakeDispatcher{}
	return &fixture{
		eng:     NewEngine(st, tr, newSeededContent(1), out, course, clk, bus, logx.Nop()),
		tracker: tr,
		store:   st,
		out:     out,
		clock:   clk,
		bus:     bus,
		loc:     loc,
	}
}

func (f *fixture) member(t *testing.T, id int64, username, name string) domain.Member {
	t.Helper()
	m := domain.Member{GroupID: gid, UserID: id, Username: username, FullName: name}
	_, err := f.store.UpsertMember(context.Background(), m)
	require.NoError(t, err)
	return m
}

func (f *fixture) tag(t *testing.T, m domain.Member, text string, at time.Time) {
	t.Helper()
	_, err := f.tracker.IngestTagEvent(context.Background(), compliance.TagEvent{Member: m, Text: text, Observed: at})
	require.NoError(t, err)
}

func date(day int) domain.Date { return domain.Date{Year: 2024, Month: time.January, Day: day} }

func TestReminderSilentWhenNobodyLate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.member(t, 1, "anna", "Anna")
	f.tag(t, m, "#оу2 done", time.Date(2024, time.January, 2, 8, 30, 0, 0, f.loc))

	require.NoError(t, f.eng.Fire(ctx, gid, domain.PeriodMorning, domain.TierT60, date(2)))
	require.NoError(t, f.eng.Fire(ctx, gid, domain.PeriodMorning, domain.TierT15, date(2)))
	require.Empty(t, f.out.texts())
}

func TestReminderNamesLateMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.member(t, 1, "", "Boris")
	f.member(t, 2, "anna", "Anna")

	require.NoError(t, f.eng.Fire(ctx, gid, domain.PeriodMorning, domain.TierT15, date(2)))
	texts := f.out.texts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "15 минут")
	require.Contains(t, texts[0], "утреннего")
	require.True(t, strings.HasSuffix(texts[0], "@anna, <a href='tg://user?id=1'>Boris</a>"), texts[0])
}

func TestDuplicateFiringSendsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.member(t, 1, "anna", "Anna")

	require.NoError(t, f.eng.Fire(ctx, gid, domain.PeriodEvening, domain.TierT60, date(3)))
	err := f.eng.Fire(ctx, gid, domain.PeriodEvening, domain.TierT60, date(3))
	require.ErrorIs(t, err, domain.ErrDuplicateSuppressed)
	require.True(t, domain.Ignorable(err))
	require.Len(t, f.out.texts(), 1)
}

func TestConcurrentFiringSendsOnce(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "anna", "Anna")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.eng.Fire(context.Background(), gid, domain.PeriodMorning, domain.TierT0, date(4))
		}()
	}
	wg.Wait()
	require.Len(t, f.out.texts(), 1)
}

func TestDeadlineGraceThenPenalty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.member(t, 1, "anna", "Anna")
	f.member(t, 2, "boris", "Boris")

	// 2024-01-05 is four days after the start.
	require.NoError(t, f.eng.Fire(ctx, gid, domain.PeriodEvening, domain.TierT0, date(5)))
	// 2024-01-06 is the fifth.
	require.NoError(t, f.eng.Fire(ctx, gid, domain.PeriodEvening, domain.TierT0, date(6)))

	texts := f.out.texts()
	require.Len(t, texts, 2)
	require.Contains(t, texts[0], "Вечерний отчёт не отправили вовремя: @anna, @boris.")
	require.Contains(t, texts[0], "в ближайшее время")
	require.NotContains(t, texts[0], "₽")
	require.Contains(t, texts[1], "250₽")

	fines, err := f.store.ListFines(ctx, gid)
	require.NoError(t, err)
	require.Len(t, fines, 2)
	for _, fn := range fines {
		require.Equal(t, date(6), fn.Date)
		require.Equal(t, domain.PeriodEvening, fn.Period)
		require.Equal(t, 250, fn.Amount)
	}
}

func TestDeadlinePraiseWhenAllSubmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.member(t, 1, "anna", "Anna")
	f.tag(t, m, "#неделя1", time.Date(2024, time.January, 7, 20, 0, 0, 0, f.loc))

	require.NoError(t, f.eng.Fire(ctx, gid, domain.PeriodWeekly, domain.TierT0, date(7)))
	texts := f.out.texts()
	require.Len(t, texts, 1)
	require.True(t, strings.HasPrefix(texts[0], "Все участники сдали недельные отчеты вовремя."), texts[0])
}

func TestExcusedMemberIsNotLate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.member(t, 1, "anna", "Anna")
	inst := domain.PeriodInstance{GroupID: gid, Period: domain.PeriodMorning, Date: date(2)}
	require.NoError(t, f.tracker.Excuse(ctx, inst, 1))

	require.NoError(t, f.eng.Fire(ctx, gid, domain.PeriodMorning, domain.TierT0, date(2)))
	require.Contains(t, f.out.texts()[0], "Молодцы")
}

func TestDispatchFailureKeepsMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.member(t, 1, "anna", "Anna")
	events, unsub := f.bus.SubscribeTypes(4, eventbus.TypeEscalationFailed)
	defer unsub()

	f.out.err = errors.New("chat not found")
	err := f.eng.Fire(ctx, gid, domain.PeriodMorning, domain.TierT0, date(2))
	require.ErrorIs(t, err, domain.ErrDispatch)
	require.False(t, domain.Ignorable(err))

	select {
	case ev := <-events:
		require.Equal(t, eventbus.TypeEscalationFailed, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no escalation.failed event")
	}

	f.out.err = nil
	err = f.eng.Fire(ctx, gid, domain.PeriodMorning, domain.TierT0, date(2))
	require.ErrorIs(t, err, domain.ErrDuplicateSuppressed)
	require.Empty(t, f.out.texts())
}

func TestFireRejectsUnconfiguredAndOutOfRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.UpsertGroup(ctx, domain.Group{ID: 5})
	require.NoError(t, err)
	err = f.eng.Fire(ctx, 5, domain.PeriodMorning, domain.TierT0, date(2))
	require.ErrorIs(t, err, domain.ErrConfiguration)

	err = f.eng.Fire(ctx, gid, domain.PeriodWeekly, domain.TierT0, domain.Date{Year: 2024, Month: time.March, Day: 10})
	require.ErrorIs(t, err, domain.ErrOutOfRange)

	err = f.eng.Fire(ctx, 99, domain.PeriodMorning, domain.TierT0, date(2))
	require.ErrorIs(t, err, domain.ErrUnknownGroup)
	require.Empty(t, f.out.texts())
}

func TestDailyPeriodSkippedOnSunday(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "anna", "Anna")
	require.NoError(t, f.eng.Fire(context.Background(), gid, domain.PeriodMorning, domain.TierT0, date(7)))
	require.Empty(t, f.out.texts())
}

func TestFireCompletionOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.eng.FireCompletion(ctx, gid))
	require.ErrorIs(t, f.eng.FireCompletion(ctx, gid), domain.ErrDuplicateSuppressed)
	texts := f.out.texts()
	require.Len(t, texts, 1)
	require.True(t, strings.HasPrefix(texts[0], "Сердечные поздравления"))
}

// A member tags the morning report in time, skips the evening one and is
// named in the evening grace message.
func TestScenarioMorningOnTimeEveningGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.member(t, 1, "anna", "Anna")

	f.tag(t, m, "Утро! #ОУ2", time.Date(2024, time.January, 2, 9, 0, 0, 0, f.loc))

	f.clock.Set(time.Date(2024, time.January, 2, 10, 0, 0, 0, f.loc))
	require.NoError(t, f.eng.Fire(ctx, gid, domain.PeriodMorning, domain.TierT0, date(2)))

	f.clock.Set(time.Date(2024, time.January, 2, 23, 59, 0, 0, f.loc))
	require.NoError(t, f.eng.Fire(ctx, gid, domain.PeriodEvening, domain.TierT0, date(2)))

	texts := f.out.texts()
	require.Len(t, texts, 2)
	require.Contains(t, texts[0], "утренние отчеты вовремя")
	require.Equal(t, "Вечерний отчёт не отправили вовремя: @anna. Пожалуйста, не забудьте сдать его в ближайшее время! 😊", texts[1])

	late, err := f.tracker.LateMembers(ctx, gid, domain.PeriodEvening, date(2))
	require.NoError(t, err)
	require.Len(t, late, 1)
}

func TestRussianContentCoversEveryKind(t *testing.T) {
	c := newSeededContent(7)
	for _, p := range domain.PeriodTypes {
		for _, k := range []Kind{KindGrace, KindPenalty, KindPraise} {
			txt := c.Render(Content{Kind: k, Period: p, Tier: domain.TierT0, Mentions: []string{"@x"}, FineAmount: 300})
			require.NotEmpty(t, txt, "%s/%s", p, k)
		}
		require.Contains(t, c.Render(Content{Kind: KindReminder, Period: p, Tier: domain.TierT60, Mentions: []string{"@x"}}), "1 час")
	}
	require.Contains(t, c.Render(Content{Kind: KindPenalty, Period: domain.PeriodMorning, FineAmount: 300}), "300₽")
}
