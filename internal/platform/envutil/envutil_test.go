package envutil

import (
	"testing"
	"time"
)

func TestEnvParsing(t *testing.T) {
	t.Setenv("PODIUM_TEST_INT", "7")
	t.Setenv("PODIUM_TEST_BAD_INT", "seven")
	t.Setenv("PODIUM_TEST_BOOL", "yes")
	t.Setenv("PODIUM_TEST_SECS", "90")
	t.Setenv("PODIUM_TEST_DUR", "1m30s")
	t.Setenv("PODIUM_TEST_FLOAT", "0.25")

	if got := Int("PODIUM_TEST_INT", 1); got != 7 {
		t.Fatalf("Int: want=7 got=%d", got)
	}
	if got := Int("PODIUM_TEST_BAD_INT", 3); got != 3 {
		t.Fatalf("Int fallback: want=3 got=%d", got)
	}
	if got := Bool("PODIUM_TEST_BOOL", false); !got {
		t.Fatalf("Bool: want=true got=false")
	}
	if got := Bool("PODIUM_TEST_MISSING", true); !got {
		t.Fatalf("Bool default: want=true got=false")
	}
	if got := Duration("PODIUM_TEST_SECS", 0); got != 90*time.Second {
		t.Fatalf("Duration secs: want=90s got=%s", got)
	}
	if got := Duration("PODIUM_TEST_DUR", 0); got != 90*time.Second {
		t.Fatalf("Duration str: want=90s got=%s", got)
	}
	if got := Float("PODIUM_TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("Float: want=0.25 got=%v", got)
	}
	if got := String("PODIUM_TEST_MISSING", "x"); got != "x" {
		t.Fatalf("String default: want=x got=%q", got)
	}
}
