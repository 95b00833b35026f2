// Package bots classifies user agents against an ordered signature table.
package bots

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed signatures.yaml
var defaultSignatures []byte

// Signature is one entry of the signature table.
type Signature struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Pattern  string `yaml:"pattern"`
}

// Match is the result of classifying a user agent.
type Match struct {
	IsBot    bool   `json:"is_bot"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
}

type compiled struct {
	Signature
	re *regexp.Regexp
}

// Matcher holds the compiled signature table. It is safe for concurrent use.
type Matcher struct {
	signatures []compiled
}

type signatureFile struct {
	Signatures []Signature `yaml:"signatures"`
}

// New compiles signatures in order. Patterns are case-insensitive.
func New(signatures []Signature) (*Matcher, error) {
	m := &Matcher{signatures: make([]compiled, 0, len(signatures))}
	for i, s := range signatures {
		if s.Name == "" || s.Pattern == "" {
			return nil, fmt.Errorf("signature %d: name and pattern are required", i)
		}
		re, err := regexp.Compile("(?i)" + s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("signature %q: %w", s.Name, err)
		}
		m.signatures = append(m.signatures, compiled{Signature: s, re: re})
	}
	return m, nil
}

// Load reads a YAML signature table.
func Load(r io.Reader) (*Matcher, error) {
	var f signatureFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}
	return New(f.Signatures)
}

// LoadFile reads a YAML signature table from path.
func LoadFile(path string) (*Matcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signatures: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns a matcher built from the embedded signature table.
func Default() *Matcher {
	var f signatureFile
	if err := yaml.Unmarshal(defaultSignatures, &f); err != nil {
		panic(fmt.Sprintf("bots: embedded signatures: %v", err))
	}
	m, err := New(f.Signatures)
	if err != nil {
		panic(fmt.Sprintf("bots: embedded signatures: %v", err))
	}
	return m
}

// Classify returns the first signature matching userAgent. An empty user
// agent or no match yields a non-bot result.
func (m *Matcher) Classify(userAgent string) Match {
	if userAgent == "" {
		return Match{}
	}
	for _, s := range m.signatures {
		if s.re.MatchString(userAgent) {
			return Match{IsBot: true, Name: s.Name, Category: s.Category}
		}
	}
	return Match{}
}

// Len returns the number of signatures.
func (m *Matcher) Len() int {
	return len(m.signatures)
}
