// Package util holds small, stateless helpers shared across the
// application with no dependencies on other internal packages, following
// the teacher's util package layout.
package util

// IsDNSLabelSafe reports whether name is a valid DNS label: 1-63 characters,
// lowercase letters, digits and hyphens only, and never starting or ending
// with a hyphen. Application names double as container name components and
// are used to build default subdomains, so they must satisfy RFC 1123
// before anything ever tries to resolve them.
func IsDNSLabelSafe(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}
	if name[0] == '-' || name[len(name)-1] == '-' {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
