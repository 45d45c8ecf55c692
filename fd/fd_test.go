package fd

import (
	"testing"

	"ustr"
)

func TestFullpathJoinsRelativeAgainstCwd(t *testing.T) {
	c := MkRootCwd()
	c.Chdir(ustr.Ustr("/home/user"))
	got := c.Fullpath(ustr.Ustr("docs"))
	if got.String() != "/home/user/docs" {
		t.Fatalf("got %q", got.String())
	}
}

func TestFullpathLeavesAbsoluteUnchanged(t *testing.T) {
	c := MkRootCwd()
	c.Chdir(ustr.Ustr("/home/user"))
	got := c.Fullpath(ustr.Ustr("/etc/motd"))
	if got.String() != "/etc/motd" {
		t.Fatalf("got %q", got.String())
	}
}

func TestCanonicalpathCollapsesDotDot(t *testing.T) {
	c := MkRootCwd()
	c.Chdir(ustr.Ustr("/home/user/project"))
	got := c.Canonicalpath(ustr.Ustr("../other"))
	if got.String() != "/home/user/other" {
		t.Fatalf("got %q", got.String())
	}
}
