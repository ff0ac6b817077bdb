// Package baseline tracks which messages predate the current monitoring
// session so they are never notified.
package baseline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dvornik/smsmaild/internal/modem"
	"github.com/dvornik/smsmaild/internal/retry"
)

const establishRetryDelay = 30 * time.Second

// Baseline is a tagged variant over the two identifier schemes seen across
// gateway versions: an ordinal watermark for numeric ids, or a captured set
// for opaque tokens. Not safe for concurrent use; the poll loop owns it.
type Baseline struct {
	watermark int64
	tokens    map[string]struct{}
}

// Ordinal creates a watermark baseline: ids numerically greater than
// watermark are new.
func Ordinal(watermark int64) *Baseline {
	return &Baseline{watermark: watermark}
}

// TokenSet creates a set baseline: ids not in the captured set are new.
func TokenSet(ids []string) *Baseline {
	tokens := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		tokens[id] = struct{}{}
	}
	return &Baseline{tokens: tokens}
}

// IsNew reports whether id has not been seen before.
func (b *Baseline) IsNew(id string) bool {
	if b.tokens != nil {
		_, seen := b.tokens[id]
		return !seen
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		// Opaque id under an ordinal baseline: the gateway changed its
		// identifier scheme mid-session. Treat as new.
		return true
	}
	return n > b.watermark
}

// Consume marks id as processed so it is not reconsidered as new, whether or
// not it was delivered.
func (b *Baseline) Consume(id string) {
	if b.tokens != nil {
		b.tokens[id] = struct{}{}
		return
	}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > b.watermark {
		b.watermark = n
	}
}

// Establish captures the baseline at startup. With ignoreExisting set, the
// inbox is listed with indefinite 30-second retry (the modem may not be
// ready yet); the scheme is chosen from the identifiers found. Without it,
// an empty set is returned and everything currently in the inbox is new.
// The only error returned is ctx cancellation.
func Establish(ctx context.Context, gw modem.Gateway, ignoreExisting bool, sleep retry.SleepFunc, logger *slog.Logger) (*Baseline, error) {
	if !ignoreExisting {
		return TokenSet(nil), nil
	}

	logger.Info("fetching initial inbox list")
	var ids []string
	err := retry.Do(ctx, establishRetryDelay, sleep,
		func(error) bool { return true },
		func() error {
			var err error
			ids, err = gw.ListInbox(ctx)
			if err != nil {
				logger.Warn("initial inbox listing failed, retrying in 30 seconds", "error", err)
			}
			return err
		})
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return Ordinal(-1), nil
	}

	var watermark int64 = -1
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			logger.Info("captured opaque-token baseline", "count", len(ids))
			return TokenSet(ids), nil
		}
		if n > watermark {
			watermark = n
		}
	}
	logger.Info("captured ordinal baseline", "watermark", watermark)
	return Ordinal(watermark), nil
}
