package clock

import (
	"testing"
	"time"
)

func TestManual_AdvanceAndSet(t *testing.T) {
	t.Parallel()

	c := NewManualUnix(1_700_000_000)
	if got := Unix(c); got != 1_700_000_000 {
		t.Fatalf("Unix=%d want=1700000000", got)
	}

	c.Advance(90 * time.Minute)
	if got := Unix(c); got != 1_700_005_400 {
		t.Fatalf("after advance Unix=%d want=1700005400", got)
	}

	c.Set(time.Unix(42, 0))
	if got := Unix(c); got != 42 {
		t.Fatalf("after set Unix=%d want=42", got)
	}
}

func TestFunc(t *testing.T) {
	t.Parallel()

	fixed := time.Unix(100, 0).UTC()
	c := Func(func() time.Time { return fixed })
	if !c.Now().Equal(fixed) {
		t.Fatalf("Func clock returned %v want %v", c.Now(), fixed)
	}
}
