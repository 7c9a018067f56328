package pattern

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk layout of a rules file:
//
//	rules:
//	  - category: transactional_dating
//	    pattern: '\bonlyfans\b'
//	  - category: explicit_content
//	    keyword: blowjob
//	    max_edits: 1
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads rules from the YAML file at path.
func LoadRules(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pattern: open %q: %w", path, err)
	}
	defer f.Close()

	rules, err := ParseRules(f)
	if err != nil {
		return nil, fmt.Errorf("pattern: parse %q: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes a YAML rules document from r. Unknown fields are
// rejected and every rule is compiled once so that broken patterns surface at
// load time.
func ParseRules(r io.Reader) ([]Rule, error) {
	var rf ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if _, err := New(rf.Rules); err != nil {
		return nil, err
	}
	return rf.Rules, nil
}

// Build assembles the matcher used by the gateway: the built-in rules unless
// disabled, followed by the rules in extraFile when it is non-empty.
func Build(includeDefaults bool, extraFile string) (*Matcher, error) {
	var rules []Rule
	if includeDefaults {
		rules = DefaultRules()
	}
	if extraFile != "" {
		extra, err := LoadRules(extraFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, extra...)
	}
	return New(rules)
}
