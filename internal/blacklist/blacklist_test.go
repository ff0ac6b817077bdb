package blacklist

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blacklist.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	bl, err := Load(filepath.Join(t.TempDir(), "nope.json"), testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if v := bl.Classify("+15551234567", "anything at all"); v.Blocked {
		t.Errorf("Classify() = %+v, want allowed with empty blacklist", v)
	}
}

func TestLoad_MalformedFileIsEmpty(t *testing.T) {
	path := writeRules(t, `{"words": ["a", {{`)
	bl, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v, want warning + empty blacklist", err)
	}
	if v := bl.Classify("+15551234567", "anything"); v.Blocked {
		t.Errorf("Classify() = %+v, want allowed", v)
	}
}

func TestLoad_InvalidPatternFails(t *testing.T) {
	path := writeRules(t, `{"words": ["(unclosed"]}`)
	if _, err := Load(path, testLogger()); err == nil {
		t.Error("Load() error = nil, want pattern compile error")
	}
}

func TestLoad_JSONFormat(t *testing.T) {
	path := writeRules(t, `{"words": ["OTP"], "numbers": ["^\\+1900"]}`)
	bl, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	v := bl.Classify("+15551234567", "Your OTP is 1234")
	if !v.Blocked || v.Reason != ReasonContent || v.Pattern != "OTP" {
		t.Errorf("Classify() = %+v, want blocked by content pattern OTP", v)
	}

	v = bl.Classify("+19005550000", "hello")
	if !v.Blocked || v.Reason != ReasonSender {
		t.Errorf("Classify() = %+v, want blocked by sender pattern", v)
	}
}

func TestLoad_YAMLFormat(t *testing.T) {
	path := writeRules(t, "words:\n  - spam\nnumbers:\n  - \"^0000\"\n")
	bl, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if v := bl.Classify("+15551234567", "pure spam here"); !v.Blocked {
		t.Error("expected YAML rules to block spam content")
	}
}

func TestClassify(t *testing.T) {
	path := writeRules(t, `{"words": ["lottery", "lot"], "numbers": ["^\\+1900"]}`)
	bl, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name    string
		number  string
		text    string
		blocked bool
		reason  Reason
		pattern string
	}{
		{
			name:   "allowed",
			number: "+15551234567", text: "see you at 5",
		},
		{
			name:   "content match",
			number: "+15551234567", text: "you won the lottery",
			blocked: true, reason: ReasonContent, pattern: "lottery",
		},
		{
			name:   "first declared pattern wins",
			number: "+15551234567", text: "a lottery win",
			blocked: true, reason: ReasonContent, pattern: "lottery",
		},
		{
			name:   "sender match",
			number: "+19001112222", text: "hello",
			blocked: true, reason: ReasonSender, pattern: `^\+1900`,
		},
		{
			name:   "content takes precedence over sender",
			number: "+19001112222", text: "lottery time",
			blocked: true, reason: ReasonContent, pattern: "lottery",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := bl.Classify(tt.number, tt.text)
			if v.Blocked != tt.blocked {
				t.Fatalf("Classify() blocked = %v, want %v", v.Blocked, tt.blocked)
			}
			if !tt.blocked {
				return
			}
			if v.Reason != tt.reason {
				t.Errorf("Classify() reason = %q, want %q", v.Reason, tt.reason)
			}
			if v.Pattern != tt.pattern {
				t.Errorf("Classify() pattern = %q, want %q", v.Pattern, tt.pattern)
			}
		})
	}
}
