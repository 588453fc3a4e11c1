package progress

import (
	"testing"

	"github.com/imagewriter/flashctl/pkg/size"
)

func update(written, total int64, phase string) Update {
	return Update{
		BytesWritten: size.FromInt64(written),
		TotalBytes:   size.FromInt64(total),
		Speed:        "2.1 MB/s",
		Phase:        phase,
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		name           string
		written, total string
		want           int
	}{
		{"floor of 51.2", "512", "1000", 51},
		{"zero total", "0", "0", 0},
		{"written with zero total", "500", "0", 0},
		{"over total", "1200", "1000", 100},
		{"negative written", "-10", "1000", 0},
		{"complete", "1000", "1000", 100},
		{"just under", "999", "1000", 99},
		{"beyond 2^53", "9007199254740993", "18014398509481986", 50},
		{"multi terabyte", "3999999999999", "4000000000000", 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percent(size.MustParse(tt.written), size.MustParse(tt.total))
			if got != tt.want {
				t.Errorf("Percent(%s, %s) = %d, want %d", tt.written, tt.total, got, tt.want)
			}
			if got < 0 || got > 100 {
				t.Errorf("Percent out of range: %d", got)
			}
		})
	}
}

func TestAggregator_ApplyClampsOvershoot(t *testing.T) {
	a := NewAggregator()
	snap := a.Apply(update(1200, 1000, "Writing"))

	if snap.Kind != KindWriting {
		t.Fatalf("Kind = %v, want writing", snap.Kind)
	}
	if snap.BytesWritten.String() != "1000" {
		t.Errorf("BytesWritten = %s, want 1000", snap.BytesWritten)
	}
	if snap.Percent != 100 {
		t.Errorf("Percent = %d, want 100", snap.Percent)
	}
}

func TestAggregator_RegressionWithinPhase(t *testing.T) {
	a := NewAggregator()
	a.Apply(update(600, 1000, "Writing"))
	snap := a.Apply(update(400, 1000, "Writing"))

	if snap.BytesWritten.String() != "600" {
		t.Errorf("regression not clamped: %s", snap.BytesWritten)
	}

	// A new phase starts counting from zero again.
	snap = a.Apply(update(100, 1000, "Verifying"))
	if snap.BytesWritten.String() != "100" || snap.Phase != "Verifying" {
		t.Errorf("new phase should reset baseline: %+v", snap)
	}
}

func TestAggregator_TerminalStates(t *testing.T) {
	a := NewAggregator()
	a.Apply(update(512, 1000, "Writing"))

	done := a.Complete()
	if done.Kind != KindDone || done.Percent != 100 || !done.Terminal() {
		t.Errorf("unexpected done snapshot: %+v", done)
	}

	a.Reset()
	a.Apply(update(512, 1000, "Writing"))
	failed := a.Fail("dd: error writing '/dev/sdb': No space left on device")
	if failed.Kind != KindError {
		t.Fatalf("Kind = %v, want error", failed.Kind)
	}
	if failed.Message != "dd: error writing '/dev/sdb': No space left on device" {
		t.Errorf("message altered: %q", failed.Message)
	}
	if failed.Percent != 51 {
		t.Errorf("failure should keep last percent, got %d", failed.Percent)
	}

	if got := a.Reset(); got.Kind != KindIdle {
		t.Errorf("Reset = %v, want idle", got.Kind)
	}
}

func TestAggregator_SnapshotsAreValues(t *testing.T) {
	a := NewAggregator()
	first := a.Apply(update(100, 1000, "Writing"))
	a.Apply(update(900, 1000, "Writing"))

	if first.BytesWritten.String() != "100" {
		t.Errorf("earlier snapshot changed: %s", first.BytesWritten)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in     string
		binary bool
		want   string
	}{
		{"0", false, "0.0 B"},
		{"999", false, "999.0 B"},
		{"1000", false, "1.0 KB"},
		{"1023", true, "1023.0 B"},
		{"1536", true, "1.5 KiB"},
		{"1234567", false, "1.2 MB"},
		{"32000000000", false, "32.0 GB"},
		{"4000000000000", false, "4.0 TB"},
		{"5000000000000", false, "5.0 TB"},
		{"5000000000000000", false, "5000.0 TB"},
		{"1099511627776", true, "1.0 TiB"},
		{"1073741824", true, "1.0 GiB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(size.MustParse(tt.in), tt.binary); got != tt.want {
			t.Errorf("FormatBytes(%s, %v) = %q, want %q", tt.in, tt.binary, got, tt.want)
		}
	}
}
