// Package apt drives apt-get and apt-mark for the privileged helper and
// parses the listings the front-ends show.
//
// The helper side runs apt-get with APT::Status-Fd pointed at a pipe and
// turns the machine-readable status stream into relay messages: a percent
// value for the progress bar and a free-text status line per step. The
// front-end side only reads "apt list --upgradable" and never needs root.
package apt
