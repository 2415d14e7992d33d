// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package main

import "github.com/commguard/commguard/internal/auth"

// Process exit codes by error kind.
var exitCodes = map[auth.Kind]int{
	auth.KindValidation:     2,
	auth.KindNotFound:       3,
	auth.KindExpired:        3,
	auth.KindConflict:       4,
	auth.KindLocked:         5,
	auth.KindAuthentication: 6,
	auth.KindDependency:     1,
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[auth.KindOf(err)]; ok {
		return code
	}
	return 1
}
