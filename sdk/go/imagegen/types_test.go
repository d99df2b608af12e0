package imagegen

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlagAcceptsIntegersAndBooleans(t *testing.T) {
	cases := map[string]bool{
		"1": true, "0": false, "true": true, "false": false, "null": false, `"1"`: true, "2": true,
	}
	for raw, want := range cases {
		var f Flag
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if bool(f) != want {
			t.Fatalf("flag %s decoded to %v, want %v", raw, f, want)
		}
	}
	var f Flag
	if err := json.Unmarshal([]byte(`"yes"`), &f); err == nil {
		t.Fatalf("expected error for unknown flag text")
	}
}

func TestTimestampFormats(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Time
	}{
		{`"2024-05-01T10:00:00Z"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{`"2024-05-01 10:00:00"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{`1714557600`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{`1714557600000`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		var ts Timestamp
		if err := json.Unmarshal([]byte(tc.raw), &ts); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		if !ts.Time().Equal(tc.want) {
			t.Fatalf("timestamp %s parsed to %v, want %v", tc.raw, ts.Time(), tc.want)
		}
	}
}

func TestTimestampRoundTripKeepsRawText(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"2024-05-01T10:00:00.500000"`), &ts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"2024-05-01T10:00:00.500000"` {
		t.Fatalf("unexpected encoding %s", out)
	}
}

func TestTimestampOrdering(t *testing.T) {
	older := ParseTimestamp("2024-05-01T10:00:00")
	newer := ParseTimestamp("2024-05-01 10:00:01")
	if !newer.NewerThan(older) || older.NewerThan(newer) {
		t.Fatalf("unexpected ordering")
	}
	if !ParseTimestamp("2024-05-01T10:00:00Z").Equal(ParseTimestamp("2024-05-01 10:00:00")) {
		t.Fatalf("expected equal instants in different layouts to compare equal")
	}
	if ParseTimestamp("someday").Equal(ParseTimestamp("another day")) {
		t.Fatalf("unparsed timestamps should compare raw text")
	}
}

func TestTaskKeyPrefersTaskID(t *testing.T) {
	if (Task{ID: "a", TaskID: "b"}).Key() != "b" {
		t.Fatalf("expected task_id to win")
	}
	if (Task{ID: "a"}).Key() != "a" {
		t.Fatalf("expected id fallback")
	}
}
