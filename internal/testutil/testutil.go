// Package testutil provides test helpers for imsgtext tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - fixtures.go: attributedBody payload builders (keyed archives, typedstreams)
//   - store_helpers.go: database test setup (NewTestStore)
//   - fs_helpers.go: filesystem operations (WriteFile, ReadFile, MustExist)
//
// Subpackages storetest and chatdbtest build populated imsgtext and
// Messages databases.
package testutil
