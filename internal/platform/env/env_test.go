package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("MES_TEST_STRING", "caster-1")
	if got := String("MES_TEST_STRING", "def"); got != "caster-1" {
		t.Fatalf("String()=%q, want caster-1", got)
	}
	if got := String("MES_TEST_STRING_MISSING", "def"); got != "def" {
		t.Fatalf("String()=%q, want def", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("MES_TEST_DURATION", "45m")
	got, err := Duration("MES_TEST_DURATION", time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 45*time.Minute {
		t.Fatalf("Duration()=%v, want 45m", got)
	}

	t.Setenv("MES_TEST_DURATION", "not-a-duration")
	if _, err := Duration("MES_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("expected parse error")
	}

	got, err = Duration("MES_TEST_DURATION_MISSING", 10*time.Second)
	if err != nil || got != 10*time.Second {
		t.Fatalf("Duration()=%v err=%v, want default 10s", got, err)
	}
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("MES_TEST_BOOL", "true")
	b, err := Bool("MES_TEST_BOOL", false)
	if err != nil || !b {
		t.Fatalf("Bool()=%v err=%v, want true", b, err)
	}

	t.Setenv("MES_TEST_INT", "8081")
	i, err := Int("MES_TEST_INT", 0)
	if err != nil || i != 8081 {
		t.Fatalf("Int()=%v err=%v, want 8081", i, err)
	}

	t.Setenv("MES_TEST_INT", "eight")
	if _, err := Int("MES_TEST_INT", 0); err == nil {
		t.Fatalf("expected parse error")
	}
}
