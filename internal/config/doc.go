// Package config holds mediaqueue's TOML configuration.
//
// Load reads the file (or the first of the default locations that exists),
// fills unset values from Default, expands ~ in paths and validates the
// result. MEDIAQUEUE_API_TOKEN overrides the API token from the file.
// Derived locations such as SocketPath, LockPath and StoragePath are methods
// on Config so daemon and CLI agree on them.
package config
