// Package common provides shared constants, types, and utilities
// used across the Pikman Update Manager application.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.github.pikaos-linux.pikmanupdatemanager"
	// AppName is the display name of the application.
	AppName = "Pikman Update Manager"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "pikman-update-manager"
)

// File names used by the application.
const (
	ConfigFileName  = "config.yaml"
	HistoryFileName = "history.db"
	LogFileName     = "pikman-update-manager.log"
)

// Privileged helper defaults.
const (
	// DefaultEscalator is the privilege-escalation launcher.
	DefaultEscalator = "pkexec"
	// DefaultHelperPath is where packaging installs the APT helper.
	DefaultHelperPath = "/usr/lib/pika/pikman-update-manager/pikman-apt-helper"
)

// Relay socket names, one per (operation x channel).
const (
	AptUpdatePercentSocket  = "apt_update_percent.sock"
	AptUpdateStatusSocket   = "apt_update_status.sock"
	AptUpgradePercentSocket = "apt_upgrade_percent.sock"
	AptUpgradeStatusSocket  = "apt_upgrade_status.sock"
)

// Relay wire constants.
const (
	// SentinelSucceeded marks a successful terminal state on a status channel.
	SentinelSucceeded = "FN_OVERRIDE_SUCCESSFUL"
	// SentinelFailed marks a failed terminal state on a status channel.
	SentinelFailed = "FN_OVERRIDE_FAILED"
	// DefaultReceiveBuffer is the size of the single read done per connection.
	DefaultReceiveBuffer = 1024
)

// Helper exit codes.
const (
	// ExitSuccess means the helper finished its transaction.
	ExitSuccess = 0
	// ExitHandled means the helper already reported failure over the relay.
	ExitHandled = 53
	// ExitNotAuthorized is returned by pkexec when authorization fails.
	ExitNotAuthorized = 126
	// ExitDismissed is returned by pkexec when the dialog is dismissed.
	ExitDismissed = 127
)

// Default timeouts and intervals.
const (
	// HandledExitGrace bounds how long a run waits for the failure sentinel
	// after the helper exits with ExitHandled.
	HandledExitGrace = 5 * time.Second
	// DialTimeout bounds a single relay connection attempt.
	DialTimeout = 2 * time.Second
	// AcceptBackoffMax caps the delay between failing accept calls.
	AcceptBackoffMax = 1 * time.Second
)

// Theme values.
const (
	ThemeAuto  = "auto"
	ThemeLight = "light"
	ThemeDark  = "dark"
)
