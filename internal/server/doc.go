// Package server is the HTTP framing the spec explicitly puts out of scope
// for the core (spec.md §1: "HTTP framing, routing, and the outer service
// runtime"). It exists only to make dapaggregator a runnable binary: it
// negotiates media type and version from the URL/headers, authorizes the
// request, decodes a JSON body into the matching internal/aggregation or
// internal/collect message, calls into the core, and renders the result
// back as JSON with the right content-type for the draft in play.
package server
