package ebpf

import "testing"

func TestParseKernelVersion(t *testing.T) {
	tests := []struct {
		in      string
		major   int
		minor   int
		wantErr bool
	}{
		{"6.8.0-45-generic", 6, 8, false},
		{"5.15.0-test", 5, 15, false},
		{"4.19", 4, 19, false},
		{"unknown", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		major, minor, err := parseKernelVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseKernelVersion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if major != tt.major || minor != tt.minor {
			t.Fatalf("parseKernelVersion(%q) = %d.%d, want %d.%d", tt.in, major, minor, tt.major, tt.minor)
		}
	}
}

func TestSupportAvailable(t *testing.T) {
	if (Support{XDP: true, RingBuffer: true}).Available() != true {
		t.Fatal("expected support with XDP and ring buffer to be available")
	}
	if (Support{XDP: true, RingBuffer: true, Reason: "old kernel"}).Available() {
		t.Fatal("a reason must make support unavailable")
	}
	if (Support{XDP: true}).Available() {
		t.Fatal("missing ring buffer must make support unavailable")
	}
}

func TestDetectReportsKernel(t *testing.T) {
	s := Detect()
	if !s.Available() && s.Reason == "" {
		t.Fatalf("unavailable support must carry a reason: %+v", s)
	}
}
