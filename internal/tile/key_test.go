package tile

import (
	"errors"
	"testing"
)

func TestParseKey(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    Key
		wantErr bool
	}{
		{"archive name", "ASTGTMV003_N00E006.zip", "N00E006", false},
		{"full url", "https://example.com/ASTER/ASTGTMV003_S45W071.zip", "S45W071", false},
		{"hgt path", "/data/skadi/N37/N37W123.hgt.gz", "N37W123", false},
		{"lower case", "astgtmv003_n12e034.zip", "N12E034", false},
		{"no code", "ASTGTMV003_README.zip", "", true},
		{"short digits", "N1E001.zip", "", true},
		{"empty", "", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseKey(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseKey(%q) = %q, want error", tc.input, got)
				}
				if !errors.Is(err, ErrNoKey) {
					t.Fatalf("ParseKey(%q) error = %v, want ErrNoKey", tc.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q) unexpected error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("ParseKey(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
