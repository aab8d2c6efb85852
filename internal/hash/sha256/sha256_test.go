package sha256

import "testing"

func TestHasherDigests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"text", "hello world", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}
	h := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := h.Hash([]byte(tc.input))
			if err != nil {
				t.Fatalf("Hash: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Hash(%q) = %s, want %s", tc.input, got, tc.want)
			}
		})
	}
}

func TestHasherShort(t *testing.T) {
	t.Parallel()

	h := New()
	report := []byte(`{"phone":"2155551212","results":[]}`)
	full, _ := h.Hash(report)
	for _, n := range []int{1, 12, 64} {
		if got := h.Short(report, n); got != full[:n] {
			t.Fatalf("Short(%d) = %s, want prefix of %s", n, got, full)
		}
	}
	for _, n := range []int{0, -3, 65} {
		if got := h.Short(report, n); got != full {
			t.Fatalf("Short(%d) = %s, want full digest", n, got)
		}
	}
	if h.Short([]byte("a"), 12) == h.Short([]byte("b"), 12) {
		t.Fatal("distinct payloads share a prefix")
	}
}
