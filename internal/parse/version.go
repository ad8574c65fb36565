package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var versionRe = regexp.MustCompile(`^[vV]?(\d+)(?:\.(\d+))?`)

// Version holds the major and minor components of an appliance firmware version.
// Patch and build components are ignored when comparing.
type Version struct {
	Major int
	Minor int
}

// ParseVersion extracts major.minor from a raw firmware string such as "2.6.1.10" or "v3.6".
func ParseVersion(raw string) (Version, error) {
	s := strings.TrimSpace(raw)
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("unable to parse version: %q", raw)
	}

	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, fmt.Errorf("invalid major version in %q: %w", raw, err)
	}

	// "3" is read as 3.0
	minor := 0
	if m[2] != "" {
		if minor, err = strconv.Atoi(m[2]); err != nil {
			return Version{}, fmt.Errorf("invalid minor version in %q: %w", raw, err)
		}
	}

	return Version{Major: major, Minor: minor}, nil
}

// Compare returns -1, 0 or 1 when v is lower than, equal to or higher than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		if v.Major < o.Major {
			return -1
		}
		return 1
	case v.Minor < o.Minor:
		return -1
	case v.Minor > o.Minor:
		return 1
	}
	return 0
}

// AtLeast reports whether v >= o.
func (v Version) AtLeast(o Version) bool {
	return v.Compare(o) >= 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
