// Package blacklist classifies messages against regex rule sets loaded from
// an external file.
package blacklist

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"go.yaml.in/yaml/v4"
)

// rules is the on-disk rule file layout. YAML is a superset of JSON, so the
// conventional blacklist.json format loads unchanged.
type rules struct {
	Words   []string `yaml:"words"`
	Numbers []string `yaml:"numbers"`
}

// Reason says which rule set blocked a message.
type Reason string

const (
	ReasonContent Reason = "content"
	ReasonSender  Reason = "sender"
)

// Verdict is the result of classifying one message.
type Verdict struct {
	Blocked bool
	Reason  Reason
	Pattern string // the matched pattern, for log output
}

// Blacklist holds compiled content and sender patterns. Immutable after Load.
type Blacklist struct {
	words   []*regexp.Regexp
	numbers []*regexp.Regexp
}

// Load reads the rule file at path. A missing file yields an empty blacklist,
// as does an unparsable one (with a warning). An invalid pattern is a
// configuration error and fails the load.
func Load(path string, logger *slog.Logger) (*Blacklist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("blacklist file not found, not using a blacklist", "path", path)
			return &Blacklist{}, nil
		}
		return nil, fmt.Errorf("read blacklist: %w", err)
	}

	var r rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		logger.Warn("blacklist file does not contain valid YAML/JSON, ignoring it", "path", path, "error", err)
		return &Blacklist{}, nil
	}

	words, err := compilePatterns(r.Words, "content")
	if err != nil {
		return nil, err
	}
	numbers, err := compilePatterns(r.Numbers, "sender")
	if err != nil {
		return nil, err
	}

	logger.Info("loaded blacklist", "content_patterns", len(words), "sender_patterns", len(numbers))
	return &Blacklist{words: words, numbers: numbers}, nil
}

// Classify tests the message body against the content patterns in declared
// order, then the sender number against the sender patterns. First match wins;
// content patterns take precedence over sender patterns.
func (b *Blacklist) Classify(number, text string) Verdict {
	for _, re := range b.words {
		if re.MatchString(text) {
			return Verdict{Blocked: true, Reason: ReasonContent, Pattern: re.String()}
		}
	}
	for _, re := range b.numbers {
		if re.MatchString(number) {
			return Verdict{Blocked: true, Reason: ReasonSender, Pattern: re.String()}
		}
	}
	return Verdict{}
}

func compilePatterns(patterns []string, kind string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern %q: %w", kind, pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
