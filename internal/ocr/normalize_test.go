package ocr

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"crlf and tabs", "DBO5\t\t12 mg/L\r\nDCO  40", "DBO5 12 mg/L\nDCO 40"},
		{"blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"ruling lines", "Tableau\n-----------\npH 7\n|||||\n", "Tableau\n\npH 7"},
		{"digits untouched", "Pb 01 05 0.3", "Pb 01 05 0.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
