package intake

import (
	"fmt"
	"regexp"
	"strings"
)

// Scan bounds. Depth covers any plausible legitimate package; breadth caps
// the children visited per container so a pathological payload cannot make
// the walk quadratic.
const (
	maxScanDepth   = 14
	maxScanBreadth = 200
	maxFindings    = 5
)

// Finding names a secret detection: the rule that fired and the JSON path of
// the offending node. The matched value is never recorded anywhere.
type Finding struct {
	Rule string `json:"rule"`
	Path string `json:"path"`
}

// SecretRule pairs a stable rule id with a value matcher. Rules are a flat
// pluggable list: adding a new credential shape means appending here, the
// walk engine never changes.
type SecretRule struct {
	ID      string
	Pattern *regexp.Regexp
}

// hardRules match known credential shapes anywhere inside string leaves.
var hardRules = []SecretRule{
	{ID: "provider-api-key", Pattern: regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}`)},
	{ID: "pem-private-key", Pattern: regexp.MustCompile(`-----BEGIN (?:[A-Z ]+ )?PRIVATE KEY-----`)},
	{ID: "aws-access-key", Pattern: regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`)},
	{ID: "bearer-token", Pattern: regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{20,}`)},
}

// secretishKey flags object keys that look like they hold credentials.
var secretishKey = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|passw(or)?d|credential|private[_-]?key)`)

// placeholder values are exempt from the heuristic rule: docs and samples
// legitimately carry "your-api-key-here" style strings.
var placeholderMarkers = []string{
	"example", "placeholder", "your", "changeme", "change-me",
	"dummy", "sample", "xxx", "<", "redacted", "todo",
}

const heuristicMinLength = 12

func isPlaceholder(v string) bool {
	lower := strings.ToLower(v)
	for _, m := range placeholderMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ScanSecrets walks a parsed package tree looking for credential material.
// Two detector classes run on every visited node: hard pattern rules against
// all string leaves, and a heuristic that fires when a secret-ish object key
// holds a non-placeholder string of at least twelve characters.
//
// The walk is bounded by maxScanDepth levels and maxScanBreadth children per
// container, and stops early once maxFindings paths are collected. Findings
// carry JSON paths only.
func ScanSecrets(root map[string]interface{}) []Finding {
	s := &scanner{}
	s.walkMap(root, "$", 0)
	return s.findings
}

type scanner struct {
	findings []Finding
}

func (s *scanner) full() bool {
	return len(s.findings) >= maxFindings
}

func (s *scanner) add(rule, path string) {
	if !s.full() {
		s.findings = append(s.findings, Finding{Rule: rule, Path: path})
	}
}

func (s *scanner) walkMap(m map[string]interface{}, path string, depth int) {
	if depth > maxScanDepth || s.full() {
		return
	}
	visited := 0
	for key, val := range m {
		if visited >= maxScanBreadth || s.full() {
			return
		}
		visited++
		childPath := path + "." + key

		if str, ok := val.(string); ok && secretishKey.MatchString(key) {
			if !isPlaceholder(str) && len(str) >= heuristicMinLength {
				s.add("heuristic-key-value", childPath)
				continue
			}
		}
		s.walkValue(val, childPath, depth+1)
	}
}

func (s *scanner) walkValue(v interface{}, path string, depth int) {
	if depth > maxScanDepth || s.full() {
		return
	}
	switch node := v.(type) {
	case string:
		for _, rule := range hardRules {
			if rule.Pattern.MatchString(node) {
				s.add(rule.ID, path)
				return
			}
		}
	case map[string]interface{}:
		s.walkMap(node, path, depth)
	case []interface{}:
		for i, elem := range node {
			if i >= maxScanBreadth || s.full() {
				return
			}
			s.walkValue(elem, fmt.Sprintf("%s[%d]", path, i), depth+1)
		}
	}
}
