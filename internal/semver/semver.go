// Package semver orders game versions and runtime release tags.
package semver

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Version is a three-part game build version such as 4.7.0.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "1.2.3" or "v1.2.3". Missing trailing parts default to
// zero; anything non-numeric is an error.
func ParseVersion(s string) (Version, error) {
	parts, pre, ok := splitTag(strings.TrimSpace(s))
	if !ok || len(parts) > 3 || pre != "" {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	parts = append(parts, 0, 0)
	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}, nil
}

// MustParseVersion is ParseVersion for constants and tests.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or +1.
func (v Version) Compare(o Version) int {
	return cmp.Or(
		cmp.Compare(v.Major, o.Major),
		cmp.Compare(v.Minor, o.Minor),
		cmp.Compare(v.Patch, o.Patch),
	)
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// CompareTags orders release tags and returns -1, 0 or +1.
//
// Tags of the form "v1.2.3[-pre]" compare numerically part by part, missing
// parts count as zero and a pre-release sorts before its release. Free-form
// tags such as "GE-Proton8-26" sort below those and compare by natural
// order, so "GE-Proton8-26" > "GE-Proton8-9".
func CompareTags(a, b string) int {
	ap, apre, aok := splitTag(a)
	bp, bpre, bok := splitTag(b)
	switch {
	case !aok && !bok:
		return naturalCompare(a, b)
	case !aok:
		return -1
	case !bok:
		return 1
	}

	for i := range max(len(ap), len(bp)) {
		if c := cmp.Compare(partAt(ap, i), partAt(bp, i)); c != 0 {
			return c
		}
	}
	switch {
	case apre == bpre:
		return 0
	case apre == "":
		return 1
	case bpre == "":
		return -1
	}
	return naturalCompare(apre, bpre)
}

// splitTag splits "v1.2.3-rc1" into [1 2 3] and "rc1". ok is false when the
// part before the first hyphen is not dot-separated numbers.
func splitTag(tag string) (parts []int, pre string, ok bool) {
	core, pre, _ := strings.Cut(strings.TrimPrefix(tag, "v"), "-")
	for _, f := range strings.Split(core, ".") {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || f[0] == '+' {
			return nil, "", false
		}
		parts = append(parts, n)
	}
	return parts, pre, true
}

func partAt(parts []int, i int) int {
	if i < len(parts) {
		return parts[i]
	}
	return 0
}

// naturalCompare compares digit runs by value and everything else bytewise.
func naturalCompare(a, b string) int {
	for a != "" && b != "" {
		ra, restA := nextRun(a)
		rb, restB := nextRun(b)
		var c int
		if isDigit(ra[0]) && isDigit(rb[0]) {
			c = compareDigits(ra, rb)
		} else {
			c = strings.Compare(ra, rb)
		}
		if c != 0 {
			return c
		}
		a, b = restA, restB
	}
	return cmp.Compare(len(a), len(b))
}

// nextRun returns the leading run of digits or non-digits of s.
func nextRun(s string) (run, rest string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
