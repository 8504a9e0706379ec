package aliasing

import (
	"log/slog"
	"regexp"
	"strings"
)

type (
	compiledPattern struct {
		regex     *regexp.Regexp
		canonical string
	}

	// Resolver canonicalizes locations. It is immutable after construction and safe for
	// concurrent use.
	//
	// Resolution order: exact alias (case-insensitive), then patterns in configuration
	// order, first match wins. A location nothing matches is returned trimmed but
	// otherwise unchanged.
	Resolver struct {
		aliases  map[string]string
		patterns []compiledPattern
	}
)

// variableRegex matches {name} or {name*} placeholders.
var variableRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\*?\}`)

// compilePattern turns a placeholder pattern into an anchored, case-insensitive regex.
//
// Pattern: "fab-{n}" → Regex: (?i)^fab-(?P<n>[^/]+)$.
// Pattern: "site/{path*}" → Regex: (?i)^site/(?P<path>.+)$.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	result := regexp.QuoteMeta(pattern)

	for _, match := range variableRegex.FindAllStringSubmatch(pattern, -1) {
		placeholder, name := match[0], match[1]

		group := "(?P<" + name + ">[^/]+)"
		if strings.HasSuffix(placeholder, "*}") {
			group = "(?P<" + name + ">.+)"
		}

		// QuoteMeta escaped the braces, so replace the escaped form.
		result = strings.Replace(result, regexp.QuoteMeta(placeholder), group, 1)
	}

	return regexp.Compile("(?i)^" + result + "$")
}

func substituteVariables(canonical string, captures map[string]string) string {
	result := canonical

	for name, value := range captures {
		result = strings.ReplaceAll(result, "{"+name+"}", value)
		result = strings.ReplaceAll(result, "{"+name+"*}", value)
	}

	return result
}

// NewResolver builds a Resolver from cfg. Entries with an empty side or an uncompilable
// pattern are skipped with a warning. A nil cfg yields a pass-through resolver.
func NewResolver(cfg *Config) *Resolver {
	r := &Resolver{
		aliases:  make(map[string]string),
		patterns: []compiledPattern{},
	}

	if cfg == nil {
		return r
	}

	for alias, canonical := range cfg.LocationAliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		canonical = strings.TrimSpace(canonical)

		if alias == "" || canonical == "" {
			slog.Warn("Skipping location alias with empty side",
				slog.String("alias", alias),
				slog.String("canonical", canonical))

			continue
		}

		r.aliases[alias] = canonical
	}

	for _, lp := range cfg.LocationPatterns {
		pattern := strings.TrimSpace(lp.Pattern)
		canonical := strings.TrimSpace(lp.Canonical)

		if pattern == "" || canonical == "" {
			slog.Warn("Skipping location pattern with empty side",
				slog.String("pattern", pattern),
				slog.String("canonical", canonical))

			continue
		}

		regex, err := compilePattern(pattern)
		if err != nil {
			slog.Warn("Skipping location pattern with invalid regex",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()))

			continue
		}

		r.patterns = append(r.patterns, compiledPattern{regex: regex, canonical: canonical})
	}

	slog.Debug("Location resolver ready",
		slog.Int("aliases", len(r.aliases)),
		slog.Int("patterns", len(r.patterns)))

	return r
}

// AliasCount returns the number of exact aliases.
func (r *Resolver) AliasCount() int {
	if r == nil {
		return 0
	}

	return len(r.aliases)
}

// PatternCount returns the number of compiled patterns.
func (r *Resolver) PatternCount() int {
	if r == nil {
		return 0
	}

	return len(r.patterns)
}

// Resolve returns the canonical form of location.
func (r *Resolver) Resolve(location string) string {
	location = strings.TrimSpace(location)

	if canonical, ok := r.Match(location); ok {
		return canonical
	}

	return location
}

// Match returns (canonical, true) if an alias or pattern applies to location.
func (r *Resolver) Match(location string) (string, bool) {
	location = strings.TrimSpace(location)

	if r == nil || location == "" {
		return "", false
	}

	if canonical, ok := r.aliases[strings.ToLower(location)]; ok {
		return canonical, true
	}

	for _, cp := range r.patterns {
		match := cp.regex.FindStringSubmatch(location)
		if match == nil {
			continue
		}

		captures := make(map[string]string)

		for i, name := range cp.regex.SubexpNames() {
			if i > 0 && name != "" {
				captures[name] = match[i]
			}
		}

		return substituteVariables(cp.canonical, captures), true
	}

	return "", false
}
