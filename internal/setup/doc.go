// Package setup holds the install-wide defaults and the checks run before an
// install touches the host.
//
// This package is essentially a collection of scripts and constants, and is therefore the only package that is
// allowed to call a global logger.
package setup
