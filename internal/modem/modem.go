package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is one SMS as reported by the gateway. Immutable once fetched.
type Message struct {
	ID        string // gateway-assigned; numeric for ModemManager dbus ids, opaque otherwise
	Number    string // sender phone number
	Text      string // message body
	Timestamp string // raw gateway timestamp, see ParseTimestamp
	State     string // gateway-reported delivery state, informational only
}

// Gateway is the modem-control collaborator. All operations may block on an
// external process invocation.
type Gateway interface {
	// ListInbox returns the identifiers currently in the modem inbox, in
	// gateway order.
	ListInbox(ctx context.Context) ([]string, error)

	// FetchMessage retrieves the full message for one identifier.
	FetchMessage(ctx context.Context, id string) (Message, error)

	// DeleteMessage removes a message from the modem. Best effort.
	DeleteMessage(ctx context.Context, id string) error

	// DiscoverModem returns the identifier of the first available modem.
	DiscoverModem(ctx context.Context) (string, error)

	// AdoptModem switches subsequent operations to a new modem identifier.
	AdoptModem(id string)
}

// GatewayError is a failed gateway command. Detail carries the command's
// stderr output so callers can match on known failure texts.
type GatewayError struct {
	Op     string
	Detail string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("modem %s: %s", e.Op, e.Detail)
}

// IsModemNotFound reports whether err indicates the configured modem no
// longer exists, e.g. after a USB re-enumeration changed its index.
func IsModemNotFound(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && strings.Contains(ge.Detail, "couldn't find modem")
}

// ModemManager reports message timestamps with a minute-precision zone
// offset, but the offset spelling varies across versions.
var timestampLayouts = []string{
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05-07",
}

// ParseTimestamp parses a raw gateway timestamp.
func ParseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
