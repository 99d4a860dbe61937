package beefdb

import "fmt"

// Library version constants.
const (
	// Major is the major version number
	Major = 0

	// Minor is the minor version number
	Minor = 1

	// Patch is the patch version number
	Patch = 0
)

// LibraryVersion returns the version string of the library (the file
// format version is the separate Version constant).
func LibraryVersion() string {
	return fmt.Sprintf("beefdb %d.%d.%d", Major, Minor, Patch)
}
