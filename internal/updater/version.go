package updater

import (
	"strconv"
	"strings"
)

// Version is a parsed vMAJOR.MINOR.PATCH[-pre] tag.
type Version struct {
	Major, Minor, Patch int
	Pre                 string
	valid               bool
}

// ParseVersion accepts "1.2.3", "v1.2.3" and "v1.2.3-rc1". Anything else,
// including "dev", parses as a dev version.
func ParseVersion(s string) Version {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	core, pre, _ := strings.Cut(s, "-")

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Pre: pre, valid: true}
}

// IsDev reports a build without a release version.
func (v Version) IsDev() bool {
	return !v.valid
}

// IsOlderThan compares release order. A pre-release sorts before the
// release with the same numbers.
func (v Version) IsOlderThan(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	if v.Patch != other.Patch {
		return v.Patch < other.Patch
	}
	switch {
	case v.Pre == other.Pre:
		return false
	case v.Pre == "":
		return false
	case other.Pre == "":
		return true
	}
	return v.Pre < other.Pre
}

func (v Version) String() string {
	if !v.valid {
		return "dev"
	}
	s := "v" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
	if v.Pre != "" {
		s += "-" + v.Pre
	}
	return s
}
