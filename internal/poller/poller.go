// Package poller implements the message-intake and delivery pipeline: on a
// fixed interval it resolves new message identifiers against the baseline,
// fetches each message, runs the blacklist and duplicate filters, and
// forwards survivors as email notifications.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dvornik/smsmaild/internal/baseline"
	"github.com/dvornik/smsmaild/internal/blacklist"
	"github.com/dvornik/smsmaild/internal/mailer"
	"github.com/dvornik/smsmaild/internal/modem"
	"github.com/dvornik/smsmaild/internal/retry"
)

const deliveryRetryDelay = 15 * time.Second

// dateLayout renders message dates locale-independently in the notification
// body and in log output.
const dateLayout = "Mon Jan 02 15:04:05 2006 -0700"

// Options configures the poll loop.
type Options struct {
	Interval        time.Duration // sleep between cycles; zero polls continuously
	DeleteMessages  bool          // delete processed messages from the modem
	IgnoreExisting  bool          // never notify messages present at startup
	SubjectTemplate string        // %number% is replaced by the sender number
}

// identity is the duplicate-detection key. Only the most recent delivery is
// remembered, so only immediate repeats are suppressed.
type identity struct {
	number    string
	text      string
	timestamp string
}

// Poller owns all pipeline state. Processing is strictly sequential: one
// cycle completes fully before the next sleep begins, which keeps the
// duplicate check well-defined and keeps deletions from racing listings.
type Poller struct {
	gateway modem.Gateway
	filter  *blacklist.Blacklist
	mail    mailer.Mailer
	opts    Options
	logger  *slog.Logger

	sleep retry.SleepFunc
	base  *baseline.Baseline
	last  *identity // most recently delivered message, or nil
}

// New creates a Poller.
func New(gw modem.Gateway, filter *blacklist.Blacklist, mail mailer.Mailer, opts Options, logger *slog.Logger) *Poller {
	return &Poller{
		gateway: gw,
		filter:  filter,
		mail:    mail,
		opts:    opts,
		logger:  logger,
		sleep:   retry.Sleep,
	}
}

// Run establishes the baseline, then polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	base, err := baseline.Establish(ctx, p.gateway, p.opts.IgnoreExisting, p.sleep, p.logger)
	if err != nil {
		p.logger.Info("poller stopped", "reason", err)
		return
	}
	p.base = base
	p.logger.Info("baseline established, waiting for new messages")

	for {
		if err := p.sleep(ctx, p.opts.Interval); err != nil {
			p.logger.Info("poller stopped", "reason", err)
			return
		}
		p.cycle(ctx)
	}
}

// cycle runs one list-and-process pass. Gateway failures here skip the cycle.
func (p *Poller) cycle(ctx context.Context) {
	ids, err := p.gateway.ListInbox(ctx)
	if err != nil {
		p.logger.Error("failed to fetch inbox list", "error", err)
		if modem.IsModemNotFound(err) {
			p.rediscover(ctx)
		}
		return
	}

	if len(ids) == 0 {
		p.logger.Debug("got empty inbox list, skipping cycle")
		return
	}
	p.logger.Debug("fetched inbox list", "ids", ids)

	// Resolve the new ids against the baseline before processing any of
	// them: consuming a message advances the ordinal watermark, and the
	// gateway may list newest-first, so checking IsNew lazily would drop
	// the older new messages in the same snapshot.
	newIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if p.base.IsNew(id) {
			newIDs = append(newIDs, id)
		}
	}
	for _, id := range newIDs {
		p.process(ctx, id)
	}
}

// rediscover attempts a one-shot replacement of a vanished modem. On failure
// the old identifier stays in place and the next cycle tries again.
func (p *Poller) rediscover(ctx context.Context) {
	p.logger.Warn("modem no longer exists, re-detecting modem")
	id, err := p.gateway.DiscoverModem(ctx)
	if err != nil {
		p.logger.Error("modem re-detection failed", "error", err)
		return
	}
	p.logger.Info("adopted re-detected modem", "modem", id)
	p.gateway.AdoptModem(id)
}

// process handles a single new message. Failures here never abort the cycle.
func (p *Poller) process(ctx context.Context, id string) {
	msg, err := p.gateway.FetchMessage(ctx, id)
	if err != nil {
		p.logger.Error("failed to fetch message", "id", id, "error", err)
		return
	}

	ts, err := modem.ParseTimestamp(msg.Timestamp)
	if err != nil {
		// No usable date for the notification: skip the message entirely
		// rather than deliver it with a made-up timestamp.
		p.logger.Warn("failed to parse message timestamp", "id", id, "timestamp", msg.Timestamp)
		return
	}

	if v := p.filter.Classify(msg.Number, msg.Text); v.Blocked {
		p.logger.Warn("received blacklisted message",
			"id", id,
			"from", msg.Number,
			"date", ts.Format(dateLayout),
			"reason", string(v.Reason),
			"pattern", v.Pattern,
			"message", msg.Text,
		)
		p.discard(ctx, id)
		return
	}

	if p.last != nil && *p.last == (identity{msg.Number, msg.Text, msg.Timestamp}) {
		p.logger.Debug("ignoring duplicate message", "id", id)
		p.discard(ctx, id)
		return
	}

	p.logger.Info("received message",
		"id", id,
		"from", msg.Number,
		"date", ts.Format(dateLayout),
		"message", msg.Text,
	)

	if err := p.deliver(ctx, msg, ts); err != nil {
		// Non-retryable send failure or cancellation. The message stays
		// unconsumed so the next cycle picks it up again.
		p.logger.Error("failed to send notification", "id", id, "error", err)
		return
	}

	p.maybeDelete(ctx, id)
	p.last = &identity{msg.Number, msg.Text, msg.Timestamp}
	p.base.Consume(id)
}

// deliver sends the notification, retrying protocol-level SMTP failures
// every 15 seconds for as long as they persist. A fetched message must not
// be dropped because the mail server is having a bad minute.
func (p *Poller) deliver(ctx context.Context, msg modem.Message, ts time.Time) error {
	subject := composeSubject(p.opts.SubjectTemplate, msg.Number)
	body := composeBody(msg, ts)

	return retry.Do(ctx, deliveryRetryDelay, p.sleep, mailer.IsProtocolError, func() error {
		err := p.mail.Send(ctx, subject, body)
		if err != nil && mailer.IsProtocolError(err) {
			p.logger.Error("failed to send email, retrying in 15 seconds", "error", err)
		}
		return err
	})
}

// discard consumes a message that will not be notified (blacklisted or
// duplicate), deleting it from the modem like a delivered one so it is not
// reprocessed next cycle.
func (p *Poller) discard(ctx context.Context, id string) {
	p.maybeDelete(ctx, id)
	p.base.Consume(id)
}

func (p *Poller) maybeDelete(ctx context.Context, id string) {
	if !p.opts.DeleteMessages {
		return
	}
	if err := p.gateway.DeleteMessage(ctx, id); err != nil {
		p.logger.Error("failed to delete message", "id", id, "error", err)
	}
}

func composeSubject(template, number string) string {
	return strings.ReplaceAll(template, "%number%", number)
}

func composeBody(msg modem.Message, ts time.Time) string {
	return fmt.Sprintf("From: %s\nDate: %s\nMessage: %s", msg.Number, ts.Format(dateLayout), msg.Text)
}
