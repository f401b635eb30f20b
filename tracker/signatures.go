package tracker

import "strings"

// Automated fetchers and generic client markers. Matched case-insensitively
// against the user agent.
var botTokens = []string{
	"bot",
	"crawler",
	"spider",
	"gmail",
	"outlook",
}

// Provider relays that fetch remote images for a viewing user. A match
// overrides the bot tokens above.
var imageProxyTokens = []string{
	"googleimageproxy",
	"ggpht.com",
	"yahoomailproxy",
}

var browserEngineTokens = []string{
	"mozilla",
	"applewebkit",
	"webkit",
	"gecko",
	"chrome",
	"safari",
	"firefox",
	"edg",
	"opera",
}

var mailWebHosts = []string{
	"mail.google.com",
	"mail.yahoo.com",
	"outlook.live.com",
	"outlook.office.com",
	"outlook.office365.com",
}

// Referer fragments of compose windows and sent folders.
var senderViewMarkers = []string{
	"compose",
	"#sent",
	"/sent",
	"sentitems",
	"#drafts",
	"/drafts",
	"/folders/2",
}

var inboxViewMarkers = []string{
	"inbox",
	"#all",
	"#label",
	"#search",
	"#category",
	"/message",
	"/messages/",
	"/folders/1",
	"readingpane",
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// userAgentSignals records which token families a user agent matched.
type userAgentSignals struct {
	bot        bool
	imageProxy bool
	browser    bool
}

func inspectUserAgent(userAgent string) userAgentSignals {
	ua := strings.ToLower(userAgent)
	return userAgentSignals{
		bot:        containsAny(ua, botTokens),
		imageProxy: containsAny(ua, imageProxyTokens),
		browser:    containsAny(ua, browserEngineTokens),
	}
}

func isMailWebReferer(referer string) bool {
	return containsAny(strings.ToLower(referer), mailWebHosts)
}

func isSenderReferer(referer string) bool {
	if !isMailWebReferer(referer) {
		return false
	}
	return containsAny(strings.ToLower(referer), senderViewMarkers)
}

func isInboxReferer(referer string) bool {
	if !isMailWebReferer(referer) || isSenderReferer(referer) {
		return false
	}
	return containsAny(strings.ToLower(referer), inboxViewMarkers)
}
