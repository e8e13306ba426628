package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
}

func TestTruncate_runeBoundary(t *testing.T) {
	// "é" is two bytes; cutting at 2 would split it.
	if got := Truncate("héllo", 2); got != "h..." {
		t.Errorf("got %q", got)
	}
}
