// Package api is the HIVE transport. It serializes JSON requests, bounds them
// with a timeout, unwraps the backend response envelope when the endpoint
// declares one, and converts every failure into an *apierr.RequestError.
//
// The transport never retries and never caches; both belong to the query
// package.
package api
