package modem

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"regexp"
)

// smsPathRE extracts the numeric SMS id from a ModemManager dbus path.
var smsPathRE = regexp.MustCompile(`/org/freedesktop/ModemManager\d*/SMS/(\d+)$`)

const deleteAttempts = 3

// MMCLI drives ModemManager's mmcli command-line tool with JSON output.
type MMCLI struct {
	modemID string
	logger  *slog.Logger
	run     runFunc
}

// runFunc executes the mmcli binary. Tests substitute a fake.
type runFunc func(ctx context.Context, args ...string) (stdout, stderr []byte, err error)

func execMMCLI(ctx context.Context, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "mmcli", args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err := cmd.Run()
	return out.Bytes(), errOut.Bytes(), err
}

// NewMMCLI creates a gateway bound to the given modem identifier. The
// identifier may be a small index ("0") or a full dbus path, both of which
// mmcli accepts.
func NewMMCLI(modemID string, logger *slog.Logger) *MMCLI {
	return &MMCLI{
		modemID: modemID,
		logger:  logger,
		run:     execMMCLI,
	}
}

// AdoptModem switches subsequent commands to a new modem identifier.
func (m *MMCLI) AdoptModem(id string) {
	m.modemID = id
}

func (m *MMCLI) ListInbox(ctx context.Context) ([]string, error) {
	out, errOut, err := m.run(ctx, "--modem", m.modemID, "--messaging-list-sms", "--output-json")
	if err != nil {
		return nil, &GatewayError{Op: "list", Detail: commandDetail(errOut, err)}
	}

	var payload struct {
		SMS []string `json:"modem.messaging.sms"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, &GatewayError{Op: "list", Detail: "invalid JSON output: " + err.Error()}
	}

	ids := make([]string, 0, len(payload.SMS))
	for _, path := range payload.SMS {
		ids = append(ids, parseSMSID(path))
	}
	return ids, nil
}

func (m *MMCLI) FetchMessage(ctx context.Context, id string) (Message, error) {
	out, errOut, err := m.run(ctx, "--modem", m.modemID, "--sms", id, "--output-json")
	if err != nil {
		return Message{}, &GatewayError{Op: "fetch", Detail: commandDetail(errOut, err)}
	}

	var payload struct {
		SMS struct {
			Content struct {
				Number string `json:"number"`
				Text   string `json:"text"`
			} `json:"content"`
			Properties struct {
				Timestamp string `json:"timestamp"`
				State     string `json:"state"`
			} `json:"properties"`
		} `json:"sms"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Message{}, &GatewayError{Op: "fetch", Detail: "invalid JSON output: " + err.Error()}
	}

	return Message{
		ID:        id,
		Number:    payload.SMS.Content.Number,
		Text:      payload.SMS.Content.Text,
		Timestamp: payload.SMS.Properties.Timestamp,
		State:     payload.SMS.Properties.State,
	}, nil
}

// DeleteMessage removes a message from the modem. ModemManager occasionally
// fails to delete all parts of a multipart SMS on the first try, so the
// command is attempted up to three times.
func (m *MMCLI) DeleteMessage(ctx context.Context, id string) error {
	var lastDetail string
	for attempt := 0; attempt < deleteAttempts; attempt++ {
		_, errOut, err := m.run(ctx, "--modem", m.modemID, "--messaging-delete-sms", id)
		if err == nil {
			m.logger.Debug("deleted message", "id", id)
			return nil
		}
		lastDetail = commandDetail(errOut, err)
	}
	return &GatewayError{Op: "delete", Detail: lastDetail}
}

func (m *MMCLI) DiscoverModem(ctx context.Context) (string, error) {
	out, errOut, err := m.run(ctx, "--list-modems", "--output-json")
	if err != nil {
		return "", &GatewayError{Op: "discover", Detail: commandDetail(errOut, err)}
	}

	var payload struct {
		Modems []string `json:"modem-list"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return "", &GatewayError{Op: "discover", Detail: "invalid JSON output: " + err.Error()}
	}
	if len(payload.Modems) == 0 {
		return "", &GatewayError{Op: "discover", Detail: "no modems found"}
	}
	return payload.Modems[0], nil
}

// parseSMSID extracts the numeric id from a ModemManager SMS dbus path.
// Entries that don't look like a dbus path are kept verbatim as opaque
// tokens; newer gateway versions don't guarantee numeric identifiers.
func parseSMSID(path string) string {
	if match := smsPathRE.FindStringSubmatch(path); match != nil {
		return match[1]
	}
	return path
}

func commandDetail(stderr []byte, err error) string {
	if detail := bytes.TrimSpace(stderr); len(detail) > 0 {
		return string(detail)
	}
	return err.Error()
}
