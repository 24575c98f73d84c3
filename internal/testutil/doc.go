// Package testutil provides builders for constructing sessions, turns and
// fragments in tests without repeating boilerplate.
package testutil
