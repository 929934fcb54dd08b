package ids

import (
	"testing"
	"time"
)

func TestNewULID_EncodesTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0).UTC()
	id, err := NewULID(now)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("len=%d want=26", len(id))
	}

	got, err := ULIDTime(id)
	if err != nil {
		t.Fatalf("ULIDTime: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("time=%v want=%v", got, now)
	}

	if _, err := ULIDTime("not-a-ulid"); err == nil {
		t.Fatalf("expected parse error")
	}
}
