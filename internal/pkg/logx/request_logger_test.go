package logx

import "testing"

func TestAnonymizeIP(t *testing.T) {
	cases := map[string]string{
		"203.0.113.77:5123":          "203.0.113.0",
		"198.51.100.4":               "198.51.100.0",
		"127.0.0.1:80":               "127.0.0.1",
		"not-an-ip":                  "unknown_ip",
		"[2001:db8:1:2:3:4:5:6]:443": "2001:db8:1:2::",
	}

	for in, want := range cases {
		if got := AnonymizeIP(in); got != want {
			t.Errorf("AnonymizeIP(%q) = %q, want %q", in, got, want)
		}
	}
}
