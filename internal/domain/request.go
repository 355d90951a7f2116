package domain

import (
	"crypto/subtle"
)

// MinHTMLLength is the minimum length of the html field, counted in UTF-16
// code units the way browsers and JavaScript measure string length.
const MinHTMLLength = 100

// RenderRequest is the JSON body of POST /render-pdf. Fields are decoded as
// untyped values so that wrong JSON types are reported by Authorize and
// ValidateHTML instead of failing the decode.
type RenderRequest struct {
	Secret   any `json:"secret"`
	HTML     any `json:"html"`
	Filename any `json:"filename"`
}

// Authorize checks the caller's secret against the configured one.
func Authorize(configured string, req RenderRequest) error {
	if configured == "" {
		return ErrSecretNotConfigured
	}
	secret, ok := req.Secret.(string)
	if !ok || secret == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(configured)) != 1 {
		return ErrBadSecret
	}
	return nil
}

// ValidateHTML returns the html field when it is a string of at least
// MinHTMLLength UTF-16 code units.
func ValidateHTML(req RenderRequest) (string, error) {
	html, ok := req.HTML.(string)
	if !ok || utf16Len(html) < MinHTMLLength {
		return "", ErrInvalidHTML
	}
	return html, nil
}

// utf16Len counts code units; runes outside the BMP take two.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// Check runs Authorize then ValidateHTML, in that order.
func Check(configured string, req RenderRequest) (string, error) {
	if err := Authorize(configured, req); err != nil {
		return "", err
	}
	return ValidateHTML(req)
}
