package cadence

import (
	"testing"
	"time"

	"github.com/shift6/quotewatch/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHourlyMatchedPromotesToDaily(t *testing.T) {
	res, err := Next(Input{
		State:   models.StateActiveHourly,
		Outcome: OutcomeMatched,
		Now:     base,
		AddedAt: base.Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if res.State != models.StateActiveDaily {
		t.Fatalf("want ACTIVE_DAILY got %s", res.State)
	}
	if !res.NextDueAt.Equal(base.Add(24 * time.Hour)) {
		t.Fatalf("want due now+24h got %v", res.NextDueAt)
	}
	if res.DaysWithoutHit != 0 {
		t.Fatalf("want days_without_hit reset, got %d", res.DaysWithoutHit)
	}
	if !res.SetFirstHit {
		t.Fatalf("expected SetFirstHit on first match")
	}
}

func TestHourlyNoMatchSchedulesNextHour(t *testing.T) {
	res, err := Next(Input{
		State:   models.StateActiveHourly,
		Outcome: OutcomeNoMatch,
		Now:     base,
		AddedAt: base.Add(-36 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if res.State != models.StateActiveHourly {
		t.Fatalf("want ACTIVE_HOURLY got %s", res.State)
	}
	if !res.NextDueAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("want due now+1h got %v", res.NextDueAt)
	}
	if res.DaysWithoutHit != 1 {
		t.Fatalf("want 1 whole day without hit, got %d", res.DaysWithoutHit)
	}
}

func TestHourlyExpiresAfterNinetyDays(t *testing.T) {
	res, err := Next(Input{
		State:   models.StateActiveHourly,
		Outcome: OutcomeNoMatch,
		Now:     base,
		AddedAt: base.Add(-91 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if res.State != models.StateExpiredWeekly {
		t.Fatalf("want EXPIRED_WEEKLY got %s", res.State)
	}
	if !res.NextDueAt.Equal(base.Add(7 * 24 * time.Hour)) {
		t.Fatalf("want due now+7d got %v", res.NextDueAt)
	}
}

// Simulates the scenario of a quote created hourly and never matching over
// 91 daily cycles: the final state must be EXPIRED_WEEKLY.
func TestNinetyOneEmptyCyclesExpire(t *testing.T) {
	added := base
	state := models.StateActiveHourly
	days := 0
	now := base
	for i := 0; i < 91; i++ {
		now = now.Add(24 * time.Hour)
		res, err := Next(Input{
			State:          state,
			Outcome:        OutcomeNoMatch,
			Now:            now,
			AddedAt:        added,
			DaysWithoutHit: days,
		})
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if !res.NextDueAt.After(now) {
			t.Fatalf("cycle %d: next_due_at %v not after now %v", i, res.NextDueAt, now)
		}
		state = res.State
		days = res.DaysWithoutHit
	}
	if state != models.StateExpiredWeekly {
		t.Fatalf("final state want EXPIRED_WEEKLY got %s", state)
	}
}

func TestDailyStreakPromotesToQuarterly(t *testing.T) {
	streak := 0
	state := models.StateActiveDaily
	now := base
	for i := 0; i < PromotionStreak; i++ {
		now = now.Add(24 * time.Hour)
		res, err := Next(Input{
			State:          state,
			Outcome:        OutcomeMatched,
			Now:            now,
			AddedAt:        base,
			FirstHitSet:    true,
			DailyHitStreak: streak,
		})
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		state = res.State
		streak = res.DailyHitStreak
	}
	if state != models.StateActiveQuarterly {
		t.Fatalf("want ACTIVE_QUARTERLY after %d hit days, got %s", PromotionStreak, state)
	}
}

func TestDailyMissResetsStreak(t *testing.T) {
	res, err := Next(Input{
		State:          models.StateActiveDaily,
		Outcome:        OutcomeNoMatch,
		Now:            base,
		AddedAt:        base.Add(-10 * 24 * time.Hour),
		FirstHitSet:    true,
		DailyHitStreak: 5,
		DaysWithoutHit: 0,
	})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if res.State != models.StateActiveDaily {
		t.Fatalf("want ACTIVE_DAILY got %s", res.State)
	}
	if res.DailyHitStreak != 0 {
		t.Fatalf("want streak reset, got %d", res.DailyHitStreak)
	}
	if !res.NextDueAt.Equal(base.Add(24 * time.Hour)) {
		t.Fatalf("want due now+1d got %v", res.NextDueAt)
	}
}

func TestQuarterlyAndWeeklySteadyState(t *testing.T) {
	for _, tc := range []struct {
		state models.QuoteState
		next  time.Duration
	}{
		{models.StateActiveQuarterly, QuarterlyInterval},
		{models.StateExpiredWeekly, WeeklyInterval},
	} {
		for _, outcome := range []Outcome{OutcomeMatched, OutcomeNoMatch} {
			res, err := Next(Input{
				State:       tc.state,
				Outcome:     outcome,
				Now:         base,
				AddedAt:     base.Add(-200 * 24 * time.Hour),
				FirstHitSet: true,
			})
			if err != nil {
				t.Fatalf("%s/%s: %v", tc.state, outcome, err)
			}
			if res.State != tc.state {
				t.Fatalf("%s/%s: state changed to %s", tc.state, outcome, res.State)
			}
			if !res.NextDueAt.Equal(base.Add(tc.next)) {
				t.Fatalf("%s/%s: want due +%v got %v", tc.state, outcome, tc.next, res.NextDueAt)
			}
		}
	}
}

func TestNextIsPure(t *testing.T) {
	in := Input{
		State:          models.StateActiveDaily,
		Outcome:        OutcomeMatched,
		Now:            base,
		AddedAt:        base.Add(-48 * time.Hour),
		FirstHitSet:    true,
		DailyHitStreak: 2,
	}
	first, err := Next(in)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Next(in)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if again != first {
			t.Fatalf("Next not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestInvariantViolations(t *testing.T) {
	cases := []Input{
		{State: models.StateActiveHourly, Outcome: OutcomeNoMatch, AddedAt: base},                                                        // zero now
		{State: models.StateActiveHourly, Outcome: OutcomeNoMatch, Now: base},                                                            // zero added_at
		{State: models.StateActiveHourly, Outcome: OutcomeNoMatch, Now: base, AddedAt: base, DaysWithoutHit: -1},                         // negative counter
		{State: models.StateActiveDaily, Outcome: OutcomeNoMatch, Now: base, AddedAt: base, DailyHitStreak: -2},                          // negative streak
		{State: "ACTIVE_NEVER", Outcome: OutcomeNoMatch, Now: base, AddedAt: base},                                                       // unknown state
		{State: models.StateActiveHourly, Outcome: "maybe", Now: base, AddedAt: base},                                                    // unknown outcome
	}
	for i, in := range cases {
		if _, err := Next(in); err == nil {
			t.Fatalf("case %d: expected invariant error", i)
		}
	}
}

func TestNextDueAlwaysInFuture(t *testing.T) {
	states := []models.QuoteState{
		models.StateActiveHourly, models.StateActiveDaily,
		models.StateActiveQuarterly, models.StateExpiredWeekly,
	}
	for _, st := range states {
		for _, outcome := range []Outcome{OutcomeMatched, OutcomeNoMatch} {
			res, err := Next(Input{
				State:       st,
				Outcome:     outcome,
				Now:         base,
				AddedAt:     base.Add(-50 * 24 * time.Hour),
				FirstHitSet: true,
			})
			if err != nil {
				t.Fatalf("%s/%s: %v", st, outcome, err)
			}
			if !res.NextDueAt.After(base) {
				t.Fatalf("%s/%s: next_due_at %v not after now", st, outcome, res.NextDueAt)
			}
		}
	}
}
