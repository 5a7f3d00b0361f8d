// Package api implements the coordinator's REST+WebSocket surface
//: node authentication and container-token issuance, task
// submission and polling, run listing and patching, organization key
// exchange, the chunked blob-transfer endpoints, and the node-facing
// WebSocket event channel. It is a thin translation layer: every
// handler validates and decodes its request, hands off to
// pkg/coordinator or pkg/store, and maps the result (or error) back to
// JSON and an HTTP status.
package api
