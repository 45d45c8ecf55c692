// Package bpath canonicalizes client-supplied paths: NFC-normalize the raw
// bytes copied out of user memory, then collapse "." and ".." components.
package bpath

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"ustr"
)

// Canonicalize normalizes p to NFC and resolves "." / ".." components
// against an absolute root, returning a clean absolute path. Paths that
// attempt to climb above "/" are clamped at "/", matching a chrooted
// client's view of the server-wide namespace.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	normalized := norm.NFC.Bytes([]byte(p))
	parts := strings.Split(string(normalized), "/")

	stack := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	return ustr.Ustr("/" + strings.Join(stack, "/"))
}
