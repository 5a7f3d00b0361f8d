// Package client provides the node agent's REST client for the
// coordinator API: node authentication, container-token requests, run
// status reporting, and the task/organization lookups the node needs to
// execute a run and forward a central-compute container's child tasks.
//
// Every call goes through doJSON, which retries transient network errors
// with exponential backoff (github.com/cenkalti/backoff/v4) and trips a
// circuit breaker (github.com/sony/gobreaker) after repeated failures so
// a down coordinator does not get hammered by every connected node.
package client
