// Package tui is the interactive terminal front-end. It lists pending APT
// and Flatpak updates, lets the user skip individual items and follows a
// running operation's event stream with a progress bar.
package tui
