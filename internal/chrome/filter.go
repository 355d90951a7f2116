package chrome

import (
	"strings"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// RequestFilter decides whether a resource load may proceed.
type RequestFilter func(rawURL string) bool

// AllowInlineOnly permits only content embedded in the document itself:
// data: URIs and about: pages. Everything else (http, https, file, ws, ...)
// is aborted.
func AllowInlineOnly(rawURL string) bool {
	scheme, _, ok := strings.Cut(strings.TrimSpace(rawURL), ":")
	if !ok {
		return false
	}
	switch strings.ToLower(scheme) {
	case "data", "about":
		return true
	default:
		return false
	}
}

// interceptDecision maps a paused request to the reply the browser should
// receive and reports whether the request is allowed.
func interceptDecision(filter RequestFilter, ev *fetch.EventRequestPaused) (chromedp.Action, bool) {
	if filter(requestURL(ev)) {
		return fetch.ContinueRequest(ev.RequestID), true
	}
	return fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient), false
}

func requestURL(ev *fetch.EventRequestPaused) string {
	if ev == nil || ev.Request == nil {
		return ""
	}
	return ev.Request.URL
}
