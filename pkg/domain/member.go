package domain

import "strings"

// PathSeparator separates hierarchy levels in a MemberID.
const PathSeparator = "|"

// Parent returns the member one level up, or "" at the top of the hierarchy.
func (m MemberID) Parent() MemberID {
	s := strings.TrimSuffix(string(m), PathSeparator)
	idx := strings.LastIndex(s, PathSeparator)
	if idx <= 0 {
		return ""
	}
	return MemberID(s[:idx])
}

// ShortName returns the last path component.
func (m MemberID) ShortName() string {
	s := strings.TrimSuffix(string(m), PathSeparator)
	if idx := strings.LastIndex(s, PathSeparator); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// IsAncestorOf reports whether m is strictly above other in the hierarchy.
func (m MemberID) IsAncestorOf(other MemberID) bool {
	if m == "" || m == other {
		return false
	}
	return strings.HasPrefix(string(other), string(m)+PathSeparator)
}
