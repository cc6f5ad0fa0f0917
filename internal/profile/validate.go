package profile

import (
	"fmt"
	"regexp"
)

// A name starts with a letter or digit so it cannot be read as a flag when
// passed on a command line, nor hidden from listings.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName checks that name can be used as a profile directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: use 1-64 of [a-z0-9_-], starting with a letter or digit", name)
	}
	return nil
}
