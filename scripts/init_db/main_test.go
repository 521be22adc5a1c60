package main

import "testing"

func TestGetenv(t *testing.T) {
	t.Setenv("INIT_DB_TEST_KEY", "set")
	if got := getenv("INIT_DB_TEST_KEY", "fallback"); got != "set" {
		t.Errorf("getenv = %q, want set value", got)
	}
	if got := getenv("INIT_DB_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getenv = %q, want fallback", got)
	}
}
