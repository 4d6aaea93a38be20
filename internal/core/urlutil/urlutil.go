// Package urlutil implements the URL-equivalence relation and the
// authentication-URL heuristic from spec.md §6. Both are pure functions so
// NavigationService and ViewManager can share one grounded implementation
// instead of duplicating ad-hoc string matching.
package urlutil

import (
	"net/url"
	"strings"
)

// trackingParams are stripped before comparing non-search-engine query
// strings for equivalence. Case-insensitive.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
	"_ga":          {},
	"_gid":         {},
	"sessionid":    {},
	"timestamp":    {},
	"source":       {},
	"ref":          {},
	"referer":      {},
	"referrer":     {},
}

// searchEngineHosts are compared only on their "q"/"query" parameter.
var searchEngineHosts = map[string]struct{}{
	"google.com":     {},
	"bing.com":       {},
	"yahoo.com":      {},
	"duckduckgo.com": {},
}

// authMarkers are path/query/fragment substrings that mark a URL as an
// authentication flow: OAuth, SSO, and common identity-provider login
// screens. Hosts are matched only against authProviderHosts.
var authMarkers = []string{
	"oauth",
	"sso",
	"login",
	"signin",
	"auth",
	"finish_google_sso",
	"callback",
}

// authProviderHosts are known identity-provider domains; any URL on one of
// these (or a subdomain of one) is treated as an authentication URL even if
// its path carries none of the authMarkers.
var authProviderHosts = []string{
	"accounts.google.com",
	"login.microsoftonline.com",
	"github.com/login",
	"appleid.apple.com",
	"okta.com",
	"auth0.com",
}

func stripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

func trimTrailingSlash(path string) string {
	if path == "/" {
		return path
	}
	return strings.TrimSuffix(path, "/")
}

// Equivalent implements spec.md §6's URL-equivalence relation, used for
// reload suppression. Unparsable URLs are never equivalent to anything,
// including themselves, since they can't be meaningfully compared.
func Equivalent(rawA, rawB string) bool {
	a, errA := url.Parse(rawA)
	b, errB := url.Parse(rawB)
	if errA != nil || errB != nil {
		return false
	}

	hostA, hostB := stripWWW(a.Host), stripWWW(b.Host)
	if hostA != hostB {
		return false
	}

	schemeA, schemeB := strings.ToLower(a.Scheme), strings.ToLower(b.Scheme)
	if schemeA != schemeB {
		if !(isHTTPFamily(schemeA) && isHTTPFamily(schemeB)) {
			return false
		}
	}

	if trimTrailingSlash(a.Path) != trimTrailingSlash(b.Path) {
		return false
	}

	if _, isSearchEngine := searchEngineHosts[hostA]; isSearchEngine {
		qa, qb := a.Query(), b.Query()
		if len(qa["q"])+len(qa["query"])+len(qb["q"])+len(qb["query"]) > 0 {
			return queryParamEqual(qa, qb, "q") || queryParamEqual(qa, qb, "query")
		}
		// Neither URL carries a search param: fall through to the general
		// non-tracking comparison.
	}

	return nonTrackingQueryEqual(a.Query(), b.Query())
}

func isHTTPFamily(scheme string) bool {
	return scheme == "http" || scheme == "https"
}

func queryParamEqual(qa, qb url.Values, key string) bool {
	va, oka := qa[key]
	vb, okb := qb[key]
	if !oka && !okb {
		return false // neither carries the compared param; fall through is caller's job
	}
	return oka == okb && equalStringSlices(va, vb)
}

func nonTrackingQueryEqual(qa, qb url.Values) bool {
	fa := filterTracking(qa)
	fb := filterTracking(qb)
	if len(fa) != len(fb) {
		return false
	}
	for k, va := range fa {
		vb, ok := fb[k]
		if !ok || !equalStringSlices(va, vb) {
			return false
		}
	}
	return true
}

func filterTracking(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		if _, tracked := trackingParams[strings.ToLower(k)]; tracked {
			continue
		}
		out[k] = v
	}
	return out
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IsAuthenticationURL implements the authentication-URL heuristic from
// spec.md §6: used to skip snapshot capture and to allow otherwise-denied
// popups (OAuth flows).
func IsAuthenticationURL(raw string) bool {
	if raw == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := stripWWW(parsed.Host)
	for _, provider := range authProviderHosts {
		if host == provider || strings.HasSuffix(host, "."+provider) ||
			strings.Contains(strings.ToLower(raw), provider) {
			return true
		}
	}

	lower := strings.ToLower(parsed.Path + "?" + parsed.RawQuery + "#" + parsed.Fragment)
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsBlank reports whether url is the empty new-tab URL or about:blank, the
// sentinel ensureViewNavigatedToTab (ViewManager) uses to decide whether a
// renderer needs an initial navigation before it can be compared for
// equivalence.
func IsBlank(rawURL string) bool {
	trimmed := strings.TrimSpace(rawURL)
	return trimmed == "" || strings.EqualFold(trimmed, "about:blank")
}
