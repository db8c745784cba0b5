package allowlist

import "testing"

func TestAllows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		patterns string
		host     string
		want     bool
	}{
		{patterns: "*", host: "anything.test", want: true},
		{patterns: "images.example.com", host: "images.example.com", want: true},
		{patterns: "images.example.com", host: "cdn.example.com", want: false},
		{patterns: "*.example.com", host: "cdn.example.com", want: true},
		{patterns: "*.example.com", host: "a.b.example.com", want: true},
		{patterns: "*.example.com", host: "example.com", want: false},
		{patterns: "*.example.com", host: "badexample.com", want: false},
		{patterns: "a.test, *.example.com", host: "a.test", want: true},
		{patterns: "a.test,b.test", host: "B.TEST", want: true},
		{patterns: "", host: "a.test", want: false},
		{patterns: "a.test,*", host: "z.test", want: true},
	}

	for _, tc := range tests {
		if got := Parse(tc.patterns).Allows(tc.host); got != tc.want {
			t.Errorf("Parse(%q).Allows(%q) = %v, want %v", tc.patterns, tc.host, got, tc.want)
		}
	}
}

func TestZeroValueDenies(t *testing.T) {
	t.Parallel()

	var l List
	if l.Allows("example.com") {
		t.Fatal("zero list should deny")
	}
}
