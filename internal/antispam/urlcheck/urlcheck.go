// Package urlcheck extracts URLs from message content and classifies their
// domains as trusted or suspicious.
package urlcheck

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/dubblu/sentinel/internal/antispam/types"
)

var urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

// suspiciousDomains are always treated as suspicious regardless of the
// trusted list. Shorteners, invite links and common phishing targets.
var suspiciousDomains = []string{
	"bit.ly", "tinyurl.com", "goo.gl", "t.co", "ow.ly", "short.link",
	"discord.gg", "discordapp.com/invite", "discord.com/invite",
	"steampowered.com", "steamcommunity.com",
}

// disposableSuffixes mark throwaway TLDs commonly used for spam landing pages.
var disposableSuffixes = []string{".tk", ".ml"}

// Checker classifies URL domains. The trusted-domain list is mutable at
// runtime through the operator command surface.
type Checker struct {
	mu      sync.RWMutex
	trusted []string
}

// NewChecker creates a Checker seeded with the configured trusted domains.
func NewChecker(trusted []string) *Checker {
	lowered := make([]string, 0, len(trusted))
	for _, domain := range trusted {
		lowered = append(lowered, strings.ToLower(domain))
	}

	return &Checker{trusted: lowered}
}

// Extract finds all URL tokens in text and classifies each one.
// Tokens whose hostname cannot be parsed are fail-closed as suspicious.
func (c *Checker) Extract(text string) []types.URLInfo {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	infos := make([]types.URLInfo, 0, len(matches))

	for _, raw := range matches {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Hostname() == "" {
			infos = append(infos, types.URLInfo{Raw: raw, Domain: raw, Suspicious: true})
			continue
		}

		host := strings.ToLower(parsed.Hostname())
		infos = append(infos, types.URLInfo{
			Raw:        raw,
			Domain:     host,
			Suspicious: c.IsSuspiciousDomain(host),
		})
	}

	return infos
}

// IsSuspiciousDomain classifies a hostname. The static deny-list is checked
// before the trusted list, so a denied domain stays suspicious even when an
// operator trusts it. A non-empty trusted list switches unknown domains to
// suspicious unless trusted; otherwise short hosts and disposable TLDs are
// flagged heuristically.
func (c *Checker) IsSuspiciousDomain(hostname string) bool {
	domain := strings.ToLower(hostname)

	for _, suspicious := range suspiciousDomains {
		if strings.Contains(domain, suspicious) {
			return true
		}
	}

	c.mu.RLock()
	trusted := c.trusted
	c.mu.RUnlock()

	if len(trusted) > 0 {
		for _, t := range trusted {
			if strings.Contains(domain, t) {
				return false
			}
		}

		return true
	}

	if len(domain) < 6 {
		return true
	}

	for _, suffix := range disposableSuffixes {
		if strings.Contains(domain, suffix) {
			return true
		}
	}

	return false
}

// AddTrusted adds a domain to the trusted list.
// Returns false if the domain was already present.
func (c *Checker) AddTrusted(domain string) bool {
	domain = strings.ToLower(domain)

	c.mu.Lock()
	defer c.mu.Unlock()

	if slices.Contains(c.trusted, domain) {
		return false
	}

	c.trusted = append(c.trusted, domain)

	return true
}

// RemoveTrusted removes a domain from the trusted list.
// Returns false if the domain was not present.
func (c *Checker) RemoveTrusted(domain string) bool {
	domain = strings.ToLower(domain)

	c.mu.Lock()
	defer c.mu.Unlock()

	index := slices.Index(c.trusted, domain)
	if index == -1 {
		return false
	}

	// Copy on write so concurrent readers holding the old slice header
	// never observe the shift.
	replacement := make([]string, 0, len(c.trusted)-1)
	replacement = append(replacement, c.trusted[:index]...)
	replacement = append(replacement, c.trusted[index+1:]...)
	c.trusted = replacement

	return true
}

// TrustedDomains returns a copy of the trusted list.
func (c *Checker) TrustedDomains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.trusted)
}
