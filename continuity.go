package interject

import (
	"context"
	"errors"
	"fmt"
)

// Continuity tracking. A channel's archive is described by inclusive id
// ranges that are known gap-free. Ranges only ever merge: recording a batch
// folds its span into whatever it overlaps or touches, so after every write
// the stored ranges stay pairwise disjoint and non-adjacent.

// RecordContiguous registers a recorded batch with the channel's continuity
// ranges. ids are the snowflakes just persisted (any order). adjacentHint,
// when non-zero, is an id the caller asserts is contiguous with the batch:
// the live path passes the previous channel tail so an in-order append
// merges with the prior range. Backfill passes zero; its pages straddle
// already-known ids instead.
func RecordContiguous(ctx context.Context, st Store, channelID Snowflake, ids []Snowflake, adjacentHint Snowflake) (ContinuityRange, error) {
	if len(ids) == 0 && adjacentHint == 0 {
		return ContinuityRange{}, nil
	}
	lo, hi := adjacentHint, adjacentHint
	for _, id := range ids {
		if lo == 0 || id < lo {
			lo = id
		}
		if id > hi {
			hi = id
		}
	}
	merged, err := st.MergeContinuity(ctx, channelID, lo, hi)
	if err != nil {
		return ContinuityRange{}, fmt.Errorf("merge continuity: %w", err)
	}
	return merged, nil
}

// CountContinuousFrom returns how many archived messages lie in the gap-free
// span ending at since: the row count of [range.Begin, since] for the range
// containing since, or 0 when no range contains it.
func CountContinuousFrom(ctx context.Context, st Store, channelID, since Snowflake) (int, error) {
	r, err := st.ContinuityContaining(ctx, channelID, since)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return st.CountMessagesInRange(ctx, channelID, r.Begin, since)
}

// OldestContinuousFrom returns the oldest id reachable from since without a
// gap: the begin of the range containing since, or since itself when no
// range contains it.
func OldestContinuousFrom(ctx context.Context, st Store, channelID, since Snowflake) (Snowflake, error) {
	r, err := st.ContinuityContaining(ctx, channelID, since)
	if errors.Is(err, ErrNotFound) {
		return since, nil
	}
	if err != nil {
		return 0, err
	}
	return r.Begin, nil
}
