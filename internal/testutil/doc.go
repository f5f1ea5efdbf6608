// Package testutil provides testing utilities for the proxy: a controllable
// clock, fixture generators for transactions and token records, small
// assertion helpers and an HTTP request builder for handler tests.
package testutil
