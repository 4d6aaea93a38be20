package urlutil

import "testing"

func TestEquivalentStripsWWWAndTrailingSlash(t *testing.T) {
	if !Equivalent("https://www.example.com/page/", "https://example.com/page") {
		t.Fatalf("expected www./trailing-slash variants to be equivalent")
	}
}

func TestEquivalentDifferentHostsNotEqual(t *testing.T) {
	if Equivalent("https://example.com/", "https://example.org/") {
		t.Fatalf("expected different hosts to not be equivalent")
	}
}

func TestEquivalentDifferentSchemeFamiliesNotEqual(t *testing.T) {
	if Equivalent("https://example.com/", "ftp://example.com/") {
		t.Fatalf("expected https/ftp to not be equivalent")
	}
}

func TestEquivalentHTTPAndHTTPSAreSameFamily(t *testing.T) {
	if !Equivalent("http://example.com/page", "https://example.com/page") {
		t.Fatalf("expected http/https to be the same scheme family")
	}
}

// TestEquivalentSearchEngineIgnoresTrackingParams is spec.md §8's boundary
// example: utm_source differs but the q param (and host) match.
func TestEquivalentSearchEngineIgnoresTrackingParams(t *testing.T) {
	a := "https://www.google.com/search?q=x&utm_source=y"
	b := "https://google.com/search?q=x"
	if !Equivalent(a, b) {
		t.Fatalf("expected %q and %q to be equivalent", a, b)
	}
}

func TestEquivalentSearchEngineDifferentQueryNotEqual(t *testing.T) {
	a := "https://www.google.com/search?q=cats"
	b := "https://www.google.com/search?q=dogs"
	if Equivalent(a, b) {
		t.Fatalf("expected different q values to not be equivalent")
	}
}

func TestEquivalentNonSearchEngineStripsTrackingParams(t *testing.T) {
	a := "https://news.example.com/article?id=1&utm_campaign=spring"
	b := "https://news.example.com/article?id=1"
	if !Equivalent(a, b) {
		t.Fatalf("expected tracking params to be ignored outside search engines")
	}
}

func TestEquivalentNonSearchEngineDifferentNonTrackingParamNotEqual(t *testing.T) {
	a := "https://news.example.com/article?id=1"
	b := "https://news.example.com/article?id=2"
	if Equivalent(a, b) {
		t.Fatalf("expected different non-tracking params to not be equivalent")
	}
}

func TestEquivalentUnparsableURLsNeverEqual(t *testing.T) {
	bad := "http://example.com/%zz"
	if Equivalent(bad, bad) {
		t.Fatalf("expected unparsable urls to never be equivalent, even to themselves")
	}
}

func TestIsAuthenticationURLMatchesMarkers(t *testing.T) {
	cases := []string{
		"https://example.com/oauth/callback",
		"https://example.com/login",
		"https://example.com/sso/start",
		"https://example.com/app?next=finish_google_sso",
	}
	for _, u := range cases {
		if !IsAuthenticationURL(u) {
			t.Errorf("expected %q to be classified as an authentication url", u)
		}
	}
}

func TestIsAuthenticationURLMatchesKnownProviderHosts(t *testing.T) {
	if !IsAuthenticationURL("https://accounts.google.com/o/oauth2/v2/auth") {
		t.Fatalf("expected accounts.google.com to be a known identity-provider host")
	}
}

func TestIsAuthenticationURLRejectsOrdinaryURLs(t *testing.T) {
	if IsAuthenticationURL("https://example.com/products/widget") {
		t.Fatalf("expected an ordinary product page to not be an authentication url")
	}
}

func TestIsBlankRecognizesEmptyAndAboutBlank(t *testing.T) {
	for _, u := range []string{"", "about:blank", "ABOUT:BLANK", "  "} {
		if !IsBlank(u) {
			t.Errorf("expected %q to be blank", u)
		}
	}
	if IsBlank("https://example.com/") {
		t.Fatalf("expected a real url to not be blank")
	}
}
