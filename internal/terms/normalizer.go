// Package terms applies deterministic terminology corrections to generated
// chart text, such as fixing misheard drug names or expanding clinic
// shorthand.
//
// A terms file holds one rule per line. Blank lines and lines starting with
// '#' are ignored.
//
//	リンデロン VG | りんでろん => リンデロンVG
//	s/\bBID\b/1日2回/g
//
// Literal rules accept several '|'-separated spellings on the left. Regex
// rules use sed syntax with the i, g, m and s flags; matching is
// case-insensitive unless the C flag is given.
package terms

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"medivoice/internal/domain"
)

const defaultPasses = 30

// ErrNoFixedPoint means the rules kept rewriting each other's output.
var ErrNoFixedPoint = errors.New("terminology rules did not settle")

type rule interface {
	Apply(input string) (output string, changed bool)
}

// Parser compiles one rules-file line.
type Parser interface {
	CanParse(line string) bool
	Parse(line string) (rule, error)
}

// Normalizer rewrites text with rules until it stops changing.
type Normalizer struct {
	rules     []rule
	maxPasses int
}

// DefaultPath returns the per-user terms file location.
func DefaultPath(dataDir string) string {
	if dataDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			dataDir = filepath.Join(dir, "medivoice")
		}
	}
	return filepath.Join(dataDir, "terms.rules")
}

// Load reads path with the built-in parsers. A missing file yields a
// normalizer that leaves text untouched.
func Load(path string, maxPasses int) (*Normalizer, error) {
	return LoadWithParsers(path, maxPasses, builtinParsers())
}

// LoadWithParsers is Load with a caller-provided parser chain.
func LoadWithParsers(path string, maxPasses int, parsers []Parser) (*Normalizer, error) {
	if strings.TrimSpace(path) == "" {
		return newNormalizer(nil, maxPasses), nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newNormalizer(nil, maxPasses), nil
		}
		return nil, fmt.Errorf("read terms file %q: %w", path, err)
	}

	if len(parsers) == 0 {
		parsers = builtinParsers()
	}
	rules, err := parse(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("parse terms file %q: %w", path, err)
	}
	return newNormalizer(rules, maxPasses), nil
}

// newNormalizer builds a normalizer from compiled rules.
func newNormalizer(rules []rule, maxPasses int) *Normalizer {
	if maxPasses <= 0 {
		maxPasses = defaultPasses
	}
	return &Normalizer{rules: rules, maxPasses: maxPasses}
}

// Len reports how many rules are loaded.
func (n *Normalizer) Len() int {
	return len(n.rules)
}

// Apply rewrites text. It fails with ErrNoFixedPoint when the rules are
// still changing the text after the pass limit.
func (n *Normalizer) Apply(text string) (string, error) {
	if len(n.rules) == 0 || text == "" {
		return text, nil
	}

	result := text
	for pass := 0; pass < n.maxPasses; pass++ {
		changed := false
		for _, r := range n.rules {
			if next, ok := r.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}
	return text, fmt.Errorf("%w after %d passes", ErrNoFixedPoint, n.maxPasses)
}

// ApplySOAP rewrites every section of a note. Sections that fail keep their
// original text and the first failure is returned.
func (n *Normalizer) ApplySOAP(soap domain.SOAP) (domain.SOAP, error) {
	var firstErr error
	for _, field := range []*string{&soap.S, &soap.O, &soap.A, &soap.P} {
		out, err := n.Apply(*field)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		*field = out
	}
	return soap, firstErr
}

func parse(contents string, parsers []Parser) ([]rule, error) {
	lines := strings.Split(contents, "\n")
	out := make([]rule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var matched Parser
		for _, p := range parsers {
			if p.CanParse(line) {
				matched = p
				break
			}
		}
		if matched == nil {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
		r, err := matched.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func builtinParsers() []Parser {
	return []Parser{regexParser{}, literalParser{}}
}
