// Package domain contains the core business concepts for the render service:
// the render request, its authorization and validation rules, and the error
// taxonomy the HTTP layer maps to responses.
//
// Keep this package free of transport (HTTP) and infrastructure (Redis/Chrome) concerns.
package domain
