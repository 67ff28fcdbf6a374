// Package testutil lets a test binary stand in for the external programs the bridge spawns.
//
// A test package calls RunHelperIfRequested from TestMain. When the HelperModeEnv variable is
// set, the binary behaves like an example program instead of running tests.
package testutil
