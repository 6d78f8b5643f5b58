// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject Fake() with deterministic time
// control.
//
// The cosigner reads time in two places: stamping authorization
// records at commit, and stamping session deadlines on accepted
// connections. Both go through Clock instead of the time package so
// tests control them exactly.
package clock

import "time"

// Clock abstracts the time operations the cosigner uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
