package dedup

import "testing"

func TestCanonicalURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "https://example.com/post/1", want: "https://example.com/post/1"},
		{name: "trailing slash", in: "https://example.com/post/1/", want: "https://example.com/post/1"},
		{name: "surrounding whitespace", in: "  https://example.com/post/1 ", want: "https://example.com/post/1"},
		{name: "tracking params removed", in: "https://example.com/p?utm_source=rss&utm_medium=feed", want: "https://example.com/p"},
		{name: "real params kept", in: "https://example.com/p?id=42&utm_campaign=x", want: "https://example.com/p?id=42"},
		{name: "param order preserved", in: "https://example.com/p?b=2&a=1", want: "https://example.com/p?b=2&a=1"},
		{name: "fragment dropped", in: "https://example.com/p#section", want: "https://example.com/p"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalURL(tt.in); got != tt.want {
				t.Fatalf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFingerprintStability(t *testing.T) {
	t.Parallel()
	base := Fingerprint("hn", "https://example.com/post/1")

	same := []string{
		"https://example.com/post/1/",
		" https://example.com/post/1 ",
		"https://example.com/post/1?utm_source=feed",
		"https://example.com/post/1/?utm_medium=rss&fbclid=abc",
	}
	for _, u := range same {
		if got := Fingerprint("hn", u); got != base {
			t.Errorf("Fingerprint(hn, %q) = %s, want %s", u, got, base)
		}
	}

	different := []string{
		"https://example.com/post/2",
		"https://example.com/post/1?id=1",
		"http://example.com/post/1",
	}
	for _, u := range different {
		if got := Fingerprint("hn", u); got == base {
			t.Errorf("Fingerprint(hn, %q) collided with base fingerprint", u)
		}
	}

	if Fingerprint("qiita", "https://example.com/post/1") == base {
		t.Error("fingerprints for distinct sources must differ")
	}
}
