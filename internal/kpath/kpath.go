// Package kpath implements bounded, allocation-free-in-spirit path
// canonicalization and joining, with component-boundary prefix matching
// for mount resolution.
package kpath

import (
	"strings"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
)

// Max is the maximum length of a canonical path, NUL terminator excluded.
const Max = 255

// SplitComponents splits an absolute path into its non-empty components.
// "/a/./b/../c" splits into ["a", ".", "b", "..", "c"]; resolution of "."
// and ".." happens in Canonicalize, which builds on this function, and
// the VFS dispatch (lookup) splits an already canonical suffix with it
// to walk a tree one hop at a time.
func SplitComponents(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, c := range parts {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Canonicalize resolves "." and ".." components against an absolute path,
// preserving the leading "/". An extra ".." at the root is a no-op rather
// than an error. Fails with NameTooLong if the result would exceed Max.
func Canonicalize(in string) (string, kerrno.Errno) {
	if in == "" || in[0] != '/' {
		return "", kerrno.BadArg
	}
	stack := make([]string, 0, 16)
	for _, c := range SplitComponents(in) {
		switch c {
		case ".":
			// no-op
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}
	out := "/" + strings.Join(stack, "/")
	if len(out) > Max {
		return "", kerrno.NameTooLong
	}
	return out, kerrno.OK
}

// Join combines base and rel the way execve/open resolve relative paths
// against a current working directory: an absolute rel replaces base
// entirely, otherwise rel is appended with a single separator. The result
// is always canonicalized.
func Join(base, rel string) (string, kerrno.Errno) {
	if rel == "" {
		return Canonicalize(base)
	}
	if rel[0] == '/' {
		return Canonicalize(rel)
	}
	sep := "/"
	if strings.HasSuffix(base, "/") {
		sep = ""
	}
	return Canonicalize(base + sep + rel)
}

// HasPrefixComponent reports whether prefix is a path-component-boundary
// prefix of p — i.e. prefix == p, or p continues with "/" right after
// prefix. A bare strings.HasPrefix would wrongly let "/abc" match
// "/abcdef".
func HasPrefixComponent(p, prefix string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	if len(p) == len(prefix) {
		return true
	}
	// prefix already ends in "/" (mountpoints always do) or the next
	// byte of p must be "/".
	if strings.HasSuffix(prefix, "/") {
		return true
	}
	return p[len(prefix)] == '/'
}

// Dir returns the directory portion of a canonical path ("/" for a
// top-level entry).
func Dir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// Base returns the final component of a canonical path.
func Base(p string) string {
	i := strings.LastIndexByte(p, '/')
	return p[i+1:]
}
