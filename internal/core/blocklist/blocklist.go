package blocklist

import (
	"net/url"
	"strings"
)

// adDomains is the static set of ad and tracking hosts blocked when a request
// enables ad blocking. Matching is exact hostname or suffix-subdomain.
var adDomains = map[string]struct{}{
	"doubleclick.net":        {},
	"googlesyndication.com":  {},
	"googleadservices.com":   {},
	"google-analytics.com":   {},
	"googletagmanager.com":   {},
	"googletagservices.com":  {},
	"adservice.google.com":   {},
	"amazon-adsystem.com":    {},
	"adnxs.com":              {},
	"adsrvr.org":             {},
	"criteo.com":             {},
	"criteo.net":             {},
	"outbrain.com":           {},
	"taboola.com":            {},
	"moatads.com":            {},
	"pubmatic.com":           {},
	"rubiconproject.com":     {},
	"scorecardresearch.com":  {},
	"quantserve.com":         {},
	"hotjar.com":             {},
	"mixpanel.com":           {},
	"segment.io":             {},
	"segment.com":            {},
	"amplitude.com":          {},
	"fullstory.com":          {},
	"ads-twitter.com":        {},
	"chartbeat.com":          {},
	"optimizely.com":         {},
	"media.net":              {},
	"openx.net":              {},
	"casalemedia.com":        {},
	"demdex.net":             {},
	"bluekai.com":            {},
	"mathtag.com":            {},
	"serving-sys.com":        {},
	"sharethis.com":          {},
	"addthis.com":            {},
	"facebook.net":           {},
	"fbcdn.net":              {},
}

// IsBlockedDomain reports whether the request URL points at a blocklisted ad
// or tracking host. Unparseable URLs are treated as not blocked: policy fails
// closed, parsing fails open.
func IsBlockedDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := adDomains[host]; ok {
		return true
	}
	for {
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
		if _, ok := adDomains[host]; ok {
			return true
		}
	}
}

// blockedResourceTypes are aborted on every capture regardless of the ad-block
// flag. Long-lived streams and media keep the network from ever going idle.
var blockedResourceTypes = map[string]struct{}{
	"websocket":   {},
	"media":       {},
	"eventsource": {},
}

// IsBlockedResourceType reports whether a resource type is globally aborted.
func IsBlockedResourceType(resourceType string) bool {
	_, ok := blockedResourceTypes[strings.ToLower(resourceType)]
	return ok
}

// BlockFont reports whether font requests should be aborted for the given
// capture mode. Fonts are dropped for viewport captures where layout fidelity
// matters less than load time; full-page captures keep them.
func BlockFont(resourceType string, fullPage bool) bool {
	return !fullPage && strings.EqualFold(resourceType, "font")
}

// HideCSS suppresses overlay containers that survive network-level blocking:
// cookie banners, chat widgets, newsletter modals, social prompts, inline ad
// slots. Every property is set so pages that toggle only one of them still
// end up invisible.
const HideCSS = `
[class*="cookie-banner"], [class*="cookie-consent"], [class*="CookieConsent"],
[id*="cookie-banner"], [id*="cookie-consent"], [class*="gdpr"], [id*="gdpr"],
[class*="chat-widget"], [id*="chat-widget"], [class*="intercom"], [id*="intercom-container"],
[class*="drift-frame"], [id*="hubspot-messages"], iframe[title*="chat"],
[class*="newsletter-modal"], [class*="newsletter-popup"], [id*="newsletter"],
[class*="social-share"], [class*="social-overlay"], [class*="follow-prompt"],
[class*="ad-container"], [class*="ad-banner"], [class*="ad-slot"], [class*="adsbygoogle"],
[id*="ad-container"], [id*="google_ads"], ins.adsbygoogle {
	display: none !important;
	visibility: hidden !important;
	opacity: 0 !important;
	pointer-events: none !important;
}`
