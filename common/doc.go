// Package common provides shared constants, types, utilities, and interfaces
// used throughout Pikman Update Manager.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: socket names, relay sentinels, helper exit codes, file names
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for notifications and logging
//   - Logger: Leveled logging with rotation to a file under the config dir
//   - Utils: Common utility functions for directories and string slices
//
// # Usage
//
//	import "github.com/pikaos-linux/pikman-update-manager/common"
//
//	common.LogInfo("Starting %s", common.AppName)
//
//	if errors.Is(err, common.ErrNotAuthorized) {
//	    // pkexec dialog was dismissed
//	}
package common
