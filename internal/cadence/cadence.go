// Package cadence implements the polling-frequency state machine for
// tracked quotes as a pure transition function. It performs no I/O, so the
// full transition table is unit-testable in isolation.
package cadence

import (
	"fmt"
	"time"

	"github.com/shift6/quotewatch/models"
)

// Outcome is the result of one search cycle for a quote.
type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeNoMatch Outcome = "no_match"
)

// Check intervals per state.
const (
	HourlyInterval    = time.Hour
	DailyInterval     = 24 * time.Hour
	WeeklyInterval    = 7 * 24 * time.Hour
	QuarterlyInterval = 90 * 24 * time.Hour
)

// ExpiryDays is the number of days without a hit after which an active
// quote degrades to weekly checks.
const ExpiryDays = 90

// PromotionStreak is the number of consecutive daily checks with at least
// one hit required to promote a daily quote to quarterly checks.
const PromotionStreak = 7

// ErrInvariant is returned when the input violates a state invariant
// (negative counters, zero timestamps, unknown state). The caller must
// treat it as fatal for the quote's cycle only.
type ErrInvariant struct {
	Reason string
}

func (e ErrInvariant) Error() string { return "cadence invariant violation: " + e.Reason }

// Input carries everything the transition function needs about a quote.
type Input struct {
	State          models.QuoteState
	Outcome        Outcome
	Now            time.Time
	AddedAt        time.Time
	FirstHitSet    bool
	DaysWithoutHit int
	DailyHitStreak int
}

// Result is the computed next scheduling state for a quote. NextDueAt is
// strictly after Input.Now in every branch.
type Result struct {
	State          models.QuoteState
	NextDueAt      time.Time
	DaysWithoutHit int
	DailyHitStreak int
	SetFirstHit    bool
}

// Next computes the quote's next state and due time from the cycle outcome.
func Next(in Input) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}

	switch in.State {
	case models.StateActiveHourly:
		if in.Outcome == OutcomeMatched {
			return Result{
				State:          models.StateActiveDaily,
				NextDueAt:      in.Now.Add(DailyInterval),
				DaysWithoutHit: 0,
				DailyHitStreak: 1,
				SetFirstHit:    !in.FirstHitSet,
			}, nil
		}
		days := wholeDaysSince(in.AddedAt, in.Now)
		if days < in.DaysWithoutHit {
			days = in.DaysWithoutHit
		}
		if days >= ExpiryDays {
			return Result{
				State:          models.StateExpiredWeekly,
				NextDueAt:      in.Now.Add(WeeklyInterval),
				DaysWithoutHit: days,
			}, nil
		}
		return Result{
			State:          models.StateActiveHourly,
			NextDueAt:      in.Now.Add(HourlyInterval),
			DaysWithoutHit: days,
		}, nil

	case models.StateActiveDaily:
		if in.Outcome == OutcomeMatched {
			streak := in.DailyHitStreak + 1
			if streak >= PromotionStreak {
				return Result{
					State:          models.StateActiveQuarterly,
					NextDueAt:      in.Now.Add(QuarterlyInterval),
					DaysWithoutHit: 0,
					DailyHitStreak: streak,
					SetFirstHit:    !in.FirstHitSet,
				}, nil
			}
			return Result{
				State:          models.StateActiveDaily,
				NextDueAt:      in.Now.Add(DailyInterval),
				DaysWithoutHit: 0,
				DailyHitStreak: streak,
				SetFirstHit:    !in.FirstHitSet,
			}, nil
		}
		days := in.DaysWithoutHit + 1
		if days >= ExpiryDays {
			return Result{
				State:          models.StateExpiredWeekly,
				NextDueAt:      in.Now.Add(WeeklyInterval),
				DaysWithoutHit: days,
			}, nil
		}
		return Result{
			State:          models.StateActiveDaily,
			NextDueAt:      in.Now.Add(DailyInterval),
			DaysWithoutHit: days,
			DailyHitStreak: 0,
		}, nil

	case models.StateActiveQuarterly:
		// Steady state: checked every quarter regardless of outcome.
		days := in.DaysWithoutHit
		if in.Outcome == OutcomeMatched {
			days = 0
		}
		return Result{
			State:          models.StateActiveQuarterly,
			NextDueAt:      in.Now.Add(QuarterlyInterval),
			DaysWithoutHit: days,
			DailyHitStreak: in.DailyHitStreak,
			SetFirstHit:    in.Outcome == OutcomeMatched && !in.FirstHitSet,
		}, nil

	case models.StateExpiredWeekly:
		days := in.DaysWithoutHit
		if in.Outcome == OutcomeMatched {
			days = 0
		}
		return Result{
			State:          models.StateExpiredWeekly,
			NextDueAt:      in.Now.Add(WeeklyInterval),
			DaysWithoutHit: days,
			SetFirstHit:    in.Outcome == OutcomeMatched && !in.FirstHitSet,
		}, nil
	}

	return Result{}, ErrInvariant{Reason: fmt.Sprintf("unknown state %q", in.State)}
}

func validate(in Input) error {
	if in.Now.IsZero() {
		return ErrInvariant{Reason: "now is zero"}
	}
	if in.AddedAt.IsZero() {
		return ErrInvariant{Reason: "added_at is zero"}
	}
	if in.DaysWithoutHit < 0 {
		return ErrInvariant{Reason: "days_without_hit is negative"}
	}
	if in.DailyHitStreak < 0 {
		return ErrInvariant{Reason: "daily_hit_streak is negative"}
	}
	if in.Outcome != OutcomeMatched && in.Outcome != OutcomeNoMatch {
		return ErrInvariant{Reason: fmt.Sprintf("unknown outcome %q", in.Outcome)}
	}
	return nil
}

func wholeDaysSince(start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / (24 * time.Hour))
}
