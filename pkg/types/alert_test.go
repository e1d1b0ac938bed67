package types

import "testing"

func TestParseAlertKind(t *testing.T) {
	cases := []struct {
		in      string
		want    AlertKind
		wantErr bool
	}{
		{"drowsiness", Drowsiness, false},
		{"Drowsiness", Drowsiness, false},
		{"yawning", Yawning, false},
		{"phone", PhoneUsage, false},
		{"Phone Usage", PhoneUsage, false},
		{"sneezing", 0, true},
	}

	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := ParseAlertKind(c.in)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", c.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.want {
				t.Fatalf("ParseAlertKind(%q) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestFrameStatusDetected(t *testing.T) {
	s := FrameStatus{Yawning: true}
	if s.Detected(Drowsiness) || !s.Detected(Yawning) || s.Detected(PhoneUsage) {
		t.Fatalf("unexpected flags: %+v", s)
	}
	if !s.AnyAlert() {
		t.Fatalf("AnyAlert = false, want true")
	}
}
