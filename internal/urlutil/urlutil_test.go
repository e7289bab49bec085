package urlutil

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTP://Example.COM/Path",
			want: "http://example.com/Path",
		},
		{
			name: "drops default port",
			in:   "https://example.com:443/a",
			want: "https://example.com/a",
		},
		{
			name: "keeps non-default port",
			in:   "http://example.com:8080/a",
			want: "http://example.com:8080/a",
		},
		{
			name: "strips tracking params and sorts the rest",
			in:   "https://example.com/a?utm_source=x&b=2&a=1&fbclid=zzz",
			want: "https://example.com/a?a=1&b=2",
		},
		{
			name: "dcinside thread keeps only id and no",
			in:   "https://gall.dcinside.com/board/view/?id=pension&no=123&page=7&s_type=search",
			want: "https://gall.dcinside.com/board/view/?id=pension&no=123",
		},
		{
			name: "mlbpark keeps board and post id",
			in:   "https://mlbpark.donga.com/mp/b.php?b=bullpen&idx=99&m=view&p=2",
			want: "https://mlbpark.donga.com/mp/b.php?b=bullpen&idx=99",
		},
		{
			name: "empty path becomes slash",
			in:   "https://example.com",
			want: "https://example.com/",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDocumentIDDeterministic(t *testing.T) {
	a := DocumentID("https://example.com/a", "body text")
	b := DocumentID("https://example.com/a", "body text")
	if a != b {
		t.Fatalf("same inputs produced different ids: %s vs %s", a, b)
	}
	c := DocumentID("https://example.com/a", "different text")
	if a == c {
		t.Fatalf("different text produced identical id %s", a)
	}
	if len(a) != 40 {
		t.Fatalf("expected 40-char sha1 hex id, got %q", a)
	}
}
