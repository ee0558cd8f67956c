package naming

import (
	"strings"
)

// Candidate sources, strongest signal first.
const (
	SourceHostname   = "hostname"
	SourceReverseDNS = "reverse_dns"
	SourceSNMP       = "snmp"
	SourceTaxonomy   = "taxonomy"
	SourceMAC        = "mac"
	SourceKind       = "kind"
)

// MinScore is the quality bar a candidate must reach before it is used as a device name.
const MinScore = 70

type Candidate struct {
	Name   string
	Source string
}

type normalizedCandidate struct {
	Source      string
	StoredName  string
	DisplayName string
	Score       int
}

func NormalizeCandidate(source, rawName string) (storedName string, displayName string, score int, ok bool) {
	source = strings.ToLower(strings.TrimSpace(source))
	name := strings.TrimSpace(rawName)
	if name == "" {
		return "", "", 0, false
	}
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return "", "", 0, false
	}

	stored := name
	switch source {
	case SourceReverseDNS, SourceHostname:
		stored = strings.ToLower(stored)
	}

	display := stored
	if !isLabelSource(source) && strings.Contains(display, ".") && !strings.ContainsAny(display, " \t") {
		parts := strings.SplitN(display, ".", 2)
		if len(parts) > 0 && parts[0] != "" {
			display = parts[0]
		}
	}

	s := scoreCandidate(source, stored, display)
	if s < 0 {
		return stored, display, s, false
	}

	return stored, display, s, true
}

func ChooseBestDisplayName(candidates []Candidate) (string, bool) {
	best := normalizedCandidate{Score: -1_000_000}

	for _, c := range candidates {
		stored, display, score, ok := NormalizeCandidate(c.Source, c.Name)
		if !ok || score < MinScore {
			continue
		}
		next := normalizedCandidate{
			Source:      c.Source,
			StoredName:  stored,
			DisplayName: display,
			Score:       score,
		}
		if betterCandidate(next, best) {
			best = next
		}
	}

	if best.Score < MinScore || strings.TrimSpace(best.DisplayName) == "" {
		return "", false
	}
	return best.DisplayName, true
}

// MACLabel renders a MAC address as a hostname-safe fallback label.
func MACLabel(mac string) string {
	compact := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.ToLower(strings.TrimSpace(mac)))
	if compact == "" {
		return ""
	}
	return "device-" + compact
}

func betterCandidate(a, b normalizedCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	// Prefer shorter display names after scoring (tends to avoid noisy FQDNs when equal).
	if len(a.DisplayName) != len(b.DisplayName) {
		return len(a.DisplayName) < len(b.DisplayName)
	}
	if a.DisplayName != b.DisplayName {
		return a.DisplayName < b.DisplayName
	}
	return a.StoredName < b.StoredName
}

// Label sources are composed by the registry itself and are not hostnames.
func isLabelSource(source string) bool {
	switch source {
	case SourceTaxonomy, SourceMAC, SourceKind:
		return true
	}
	return false
}

func scoreCandidate(source, stored, display string) int {
	normalized := strings.ToLower(stored)
	if looksGarbage(normalized) {
		return -1
	}

	switch source {
	case SourceTaxonomy:
		return 76
	case SourceMAC:
		return 72
	case SourceKind:
		return 70
	}

	base := 50
	switch source {
	case SourceHostname:
		base = 95
	case SourceReverseDNS:
		base = 90
	case SourceSNMP:
		base = 88
	}

	// Penalize very short labels.
	if len(display) < 2 {
		base -= 50
	}

	if strings.ContainsAny(display, " \t") {
		base -= 25
	}

	if !looksHostnameLabel(display) {
		base -= 20
	}

	if strings.HasSuffix(normalized, ".local") || strings.HasSuffix(normalized, ".localdomain") {
		base -= 5
	}

	return base
}

func looksHostnameLabel(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

func looksGarbage(normalized string) bool {
	if normalized == "" {
		return true
	}
	if strings.Contains(normalized, "in-addr.arpa") || strings.Contains(normalized, "ip6.arpa") {
		return true
	}
	switch normalized {
	case "workgroup", "mshome", "__msbrowse__", "localdomain", "localhost":
		return true
	}
	return false
}
