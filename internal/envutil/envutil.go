// Package envutil builds the environment handed to child processes.
// Children never inherit the parent environment wholesale: they get a
// minimal base plus the variables the policy explicitly passes through.
package envutil

import "os"

// Minimal returns the minimal safe environment every child receives.
func Minimal() map[string]string {
	return map[string]string{
		"PATH":   "/usr/local/bin:/usr/bin:/bin",
		"LANG":   "C.UTF-8",
		"LC_ALL": "C.UTF-8",
		"HOME":   "/tmp",
	}
}

// PassThrough copies the named variables from the current process
// environment. Unset variables are skipped, so a policy entry naming a
// variable that does not exist is harmless.
func PassThrough(names []string) map[string]string {
	result := make(map[string]string, len(names))
	for _, name := range names {
		if value, ok := os.LookupEnv(name); ok {
			result[name] = value
		}
	}
	return result
}

// Merge layers override on top of base. Overrides win.
func Merge(base, override map[string]string) map[string]string {
	result := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		result[k] = v
	}
	return result
}
