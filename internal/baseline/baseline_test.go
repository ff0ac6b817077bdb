package baseline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dvornik/smsmaild/internal/modem"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// listGateway serves canned inbox listings, optionally failing the first
// few ListInbox calls.
type listGateway struct {
	ids      []string
	failures int
	calls    int
}

func (g *listGateway) ListInbox(context.Context) ([]string, error) {
	g.calls++
	if g.failures > 0 {
		g.failures--
		return nil, &modem.GatewayError{Op: "list", Detail: "modem not ready"}
	}
	return g.ids, nil
}

func (g *listGateway) FetchMessage(context.Context, string) (modem.Message, error) {
	return modem.Message{}, &modem.GatewayError{Op: "fetch", Detail: "not implemented"}
}

func (g *listGateway) DeleteMessage(context.Context, string) error { return nil }

func (g *listGateway) DiscoverModem(context.Context) (string, error) {
	return "", &modem.GatewayError{Op: "discover", Detail: "not implemented"}
}

func (g *listGateway) AdoptModem(string) {}

type fakeSleep struct {
	delays []time.Duration
}

func (f *fakeSleep) sleep(_ context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return nil
}

func TestOrdinal(t *testing.T) {
	b := Ordinal(5)

	tests := []struct {
		id   string
		want bool
	}{
		{"4", false},
		{"5", false},
		{"6", true},
		{"100", true},
		{"opaque-token", true}, // scheme changed mid-session
	}
	for _, tt := range tests {
		if got := b.IsNew(tt.id); got != tt.want {
			t.Errorf("IsNew(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}

	b.Consume("7")
	if b.IsNew("6") {
		t.Error("IsNew(6) = true after consuming 7, want false")
	}
	if !b.IsNew("8") {
		t.Error("IsNew(8) = false after consuming 7, want true")
	}
}

func TestTokenSet(t *testing.T) {
	b := TokenSet([]string{"a", "b"})

	if b.IsNew("a") || b.IsNew("b") {
		t.Error("captured ids should not be new")
	}
	if !b.IsNew("c") {
		t.Error("IsNew(c) = false, want true")
	}

	b.Consume("c")
	if b.IsNew("c") {
		t.Error("IsNew(c) = true after consume, want false")
	}
}

func TestEstablish_Disabled(t *testing.T) {
	gw := &listGateway{ids: []string{"1", "2"}}
	fs := &fakeSleep{}

	b, err := Establish(context.Background(), gw, false, fs.sleep, testLogger())
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if gw.calls != 0 {
		t.Errorf("gateway listed %d times, want 0 when not ignoring existing", gw.calls)
	}
	if !b.IsNew("1") || !b.IsNew("2") {
		t.Error("everything currently in the inbox should be new")
	}
}

func TestEstablish_OrdinalScheme(t *testing.T) {
	gw := &listGateway{ids: []string{"5", "6", "7"}}
	fs := &fakeSleep{}

	b, err := Establish(context.Background(), gw, true, fs.sleep, testLogger())
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if b.IsNew("7") {
		t.Error("IsNew(7) = true, want false (captured watermark)")
	}
	if !b.IsNew("8") {
		t.Error("IsNew(8) = false, want true")
	}
}

func TestEstablish_TokenScheme(t *testing.T) {
	gw := &listGateway{ids: []string{"msg-a", "msg-b"}}
	fs := &fakeSleep{}

	b, err := Establish(context.Background(), gw, true, fs.sleep, testLogger())
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if b.IsNew("msg-a") || b.IsNew("msg-b") {
		t.Error("captured tokens should not be new")
	}
	if !b.IsNew("msg-c") {
		t.Error("IsNew(msg-c) = false, want true")
	}
}

func TestEstablish_EmptyInbox(t *testing.T) {
	gw := &listGateway{}
	fs := &fakeSleep{}

	b, err := Establish(context.Background(), gw, true, fs.sleep, testLogger())
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if !b.IsNew("0") {
		t.Error("IsNew(0) = false, want true with empty starting inbox")
	}
}

func TestEstablish_RetriesTransientFailure(t *testing.T) {
	gw := &listGateway{ids: []string{"3"}, failures: 1}
	fs := &fakeSleep{}

	b, err := Establish(context.Background(), gw, true, fs.sleep, testLogger())
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if gw.calls != 2 {
		t.Errorf("gateway listed %d times, want 2", gw.calls)
	}
	if len(fs.delays) != 1 || fs.delays[0] != 30*time.Second {
		t.Errorf("sleeps = %v, want one 30s backoff", fs.delays)
	}
	if b.IsNew("3") {
		t.Error("IsNew(3) = true, want false after successful second attempt")
	}
}
