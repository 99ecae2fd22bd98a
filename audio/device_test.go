package audio

import "testing"

func TestMatch(t *testing.T) {
	devices := []DeviceInfo{
		{ID: "0", Name: "Built-in Microphone"},
		{ID: "1", Name: "USB Audio CODEC"},
		{ID: "2", Name: "AirPods Pro"},
	}

	tests := []struct {
		name   string
		query  string
		wantID string // "" means nil
	}{
		{"empty query is default", "", ""},
		{"exact", "USB Audio CODEC", "1"},
		{"substring", "usb", "1"},
		{"case insensitive", "AIRPODS", "2"},
		{"no match is default", "webcam", ""},
		{"first match wins", "o", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(devices, tt.query)
			if tt.wantID == "" {
				if got != nil {
					t.Fatalf("Match(%q) = %q, want nil", tt.query, got.Name)
				}
				return
			}
			if got == nil {
				t.Fatalf("Match(%q) = nil, want device %s", tt.query, tt.wantID)
			}
			if got.ID != tt.wantID {
				t.Fatalf("Match(%q) = device %s, want %s", tt.query, got.ID, tt.wantID)
			}
		})
	}
}
