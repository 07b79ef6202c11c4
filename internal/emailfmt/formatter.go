// Package emailfmt repairs email addresses dictated to a voice agent, e.g.
// "john dot smith at gmail" becomes "john.smith@gmail.com".
package emailfmt

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// Symbol maps a spoken word to the character it stands for.
type Symbol struct {
	Word string
	Char string
}

// DefaultSpokenSymbols covers English and Spanish dictation. Multi-word
// entries come before their prefixes.
var DefaultSpokenSymbols = []Symbol{
	{"at", "@"},
	{"arroba", "@"},
	{"dot", "."},
	{"punto", "."},
	{"underscore", "_"},
	{"guion bajo", "_"},
	{"guión bajo", "_"},
	{"barra baja", "_"},
	{"dash", "-"},
	{"hyphen", "-"},
	{"guion", "-"},
	{"guión", "-"},
}

// DefaultProviders are well-known mailbox providers.
var DefaultProviders = []string{
	"gmail.com",
	"hotmail.com",
	"outlook.com",
	"yahoo.com",
	"icloud.com",
	"live.com",
	"msn.com",
	"aol.com",
	"protonmail.com",
	"gmx.com",
}

// DefaultDomains are common top-level domain suffixes.
var DefaultDomains = []string{
	".com", ".org", ".net", ".edu", ".gov", ".io", ".co",
	".es", ".cat", ".eu", ".uk", ".de", ".fr", ".it", ".info",
}

var (
	validEmail      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	spacedPunct     = regexp.MustCompile(`\s*([.,;:])\s*`)
	spacedAt        = regexp.MustCompile(`\s*@\s*`)
	spacedDot       = regexp.MustCompile(`\s*\.\s*`)
	spacedUnderline = regexp.MustCompile(`\s*_\s*`)
	spacedDash      = regexp.MustCompile(`\s*-\s*`)
)

// IsValid reports whether s has the basic shape of an email address.
func IsValid(s string) bool {
	return validEmail.MatchString(s)
}

type spokenRule struct {
	re   *regexp.Regexp
	repl string
}

// Formatter normalizes transcribed email addresses.
type Formatter struct {
	providers []string
	domains   []string
	hosts     []string
	shortTLDs []string
	spoken    []spokenRule
}

// New builds a Formatter. Nil arguments select the defaults.
func New(providers, domains []string, symbols []Symbol) *Formatter {
	if providers == nil {
		providers = DefaultProviders
	}
	if domains == nil {
		domains = DefaultDomains
	}
	if symbols == nil {
		symbols = DefaultSpokenSymbols
	}

	f := &Formatter{providers: providers, domains: domains}
	for _, p := range providers {
		host, _, _ := strings.Cut(p, ".")
		f.hosts = append(f.hosts, host)
	}
	for _, d := range domains {
		if tld := strings.Trim(d, "."); len(tld) <= 3 {
			f.shortTLDs = append(f.shortTLDs, tld)
		}
	}
	for _, s := range symbols {
		f.spoken = append(f.spoken, spokenRule{
			re:   regexp.MustCompile(`(^|\s)` + regexp.QuoteMeta(s.Word) + `(\s|$)`),
			repl: "${1}" + s.Char + "${2}",
		})
	}
	return f
}

// Default returns a Formatter using the built-in vocabularies.
func Default() *Formatter {
	return New(nil, nil, nil)
}

// Format returns the best-effort email address for a transcription.
func (f *Formatter) Format(email string) string {
	email = strings.ToLower(email)
	email = f.replaceSpokenSymbols(email)
	email = strings.ReplaceAll(email, " ", "")

	if IsValid(email) {
		return email
	}

	// user.provider or user.tld
	if !strings.Contains(email, "@") && strings.Count(email, ".") == 1 {
		username, domain, _ := strings.Cut(email, ".")
		if slices.Contains(f.hosts, domain) {
			return username + "@" + domain + ".com"
		}
		if slices.Contains(f.shortTLDs, domain) {
			return username + "@gmail." + domain
		}
		if !slices.Contains(f.hosts, username) {
			return username + "@gmail.com"
		}
	}

	if !strings.Contains(email, "@") {
		email = f.fixMissingAt(email)
	}
	return f.fixIncompleteDomain(email)
}

func (f *Formatter) replaceSpokenSymbols(email string) string {
	email = spacedPunct.ReplaceAllString(email, "$1")
	for _, rule := range f.spoken {
		email = rule.re.ReplaceAllString(email, rule.repl)
	}
	email = spacedAt.ReplaceAllString(email, "@")
	email = spacedDot.ReplaceAllString(email, ".")
	email = spacedUnderline.ReplaceAllString(email, "_")
	email = spacedDash.ReplaceAllString(email, "-")
	return email
}

// fixIncompleteDomain appends ".com" to a domain without a TLD.
func (f *Formatter) fixIncompleteDomain(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	if slices.Contains(f.hosts, domain) || !strings.Contains(domain, ".") {
		return username + "@" + domain + ".com"
	}
	return email
}

func (f *Formatter) fixMissingAt(email string) string {
	if strings.Count(email, ".") == 1 {
		for _, host := range f.hosts {
			if strings.HasPrefix(email, host+".") {
				return "user@" + email
			}
		}
		return email
	}

	if f.hasKnownDomain(email) {
		return f.insertAtKnownDomain(email)
	}

	parts := strings.Split(email, ".")
	if len(parts) >= 3 {
		// Put @ before the second-to-last label: name.domain.tld.
		i := len(parts) - 2
		candidate := strings.Join(parts[:i], ".") + "@" + strings.Join(parts[i:], ".")
		if IsValid(candidate) {
			return candidate
		}
	}
	if i := strings.LastIndex(email, "."); i >= 0 {
		return email[:i] + "@" + email[i+1:]
	}
	return email
}

func (f *Formatter) hasKnownDomain(email string) bool {
	for _, d := range f.domains {
		if strings.Contains(email, d) {
			return true
		}
	}
	for _, p := range f.providers {
		if strings.Contains(email, p) {
			return true
		}
	}
	return false
}

func (f *Formatter) insertAtKnownDomain(email string) string {
	for _, p := range f.providers {
		if i := strings.Index(email, p); i >= 0 {
			return strings.TrimRight(email[:i], ".") + "@" + email[i:]
		}
	}

	for _, host := range f.hosts {
		if strings.Contains(email, "."+host+".") || strings.HasSuffix(email, "."+host) {
			before, _, _ := strings.Cut(email, "."+host)
			return before + "@" + host + ".com"
		}
	}

	domains := slices.Clone(f.domains)
	slices.SortStableFunc(domains, func(a, b string) int { return cmp.Compare(len(b), len(a)) })
	for _, d := range domains {
		idx := strings.Index(email, d)
		if idx < 0 {
			continue
		}
		start := strings.LastIndex(email[:idx], ".")
		if start < 0 {
			if si := strings.LastIndex(email[:idx], "_"); si >= 0 && si < idx-1 {
				start = si
			}
		}
		if start >= 0 {
			return email[:start] + "@" + email[start+1:]
		}
		parts := strings.Split(email, ".")
		if len(parts) >= 3 {
			return parts[0] + "@" + strings.Join(parts[1:], ".")
		}
		if len(parts) == 2 {
			for _, host := range f.hosts {
				if strings.HasPrefix(parts[1], host) {
					return parts[0] + "@" + parts[1]
				}
			}
		}
	}

	if parts := strings.Split(email, "."); len(parts) >= 3 {
		return parts[0] + "@" + strings.Join(parts[1:], ".")
	}
	return email
}
