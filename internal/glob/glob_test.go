package glob

import "testing"

func TestPatternsOverlap(t *testing.T) {
	tests := []struct {
		a, b    string
		overlap bool
	}{
		// Exact paths, the common case.
		{"src/a.rs", "src/a.rs", true},
		{"src/a.rs", "src/b.rs", false},
		{"foo.go", "foo.go", true},
		{"foo.go", "bar.go", false},

		// Single-segment wildcards.
		{"*.go", "*.go", true},
		{"*.go", "*.rs", false},
		{"*.go", "main.go", true},
		{"internal/*.go", "internal/http.go", true},
		{"internal/*.go", "pkg/*.go", false},
		{"cmd/?.go", "cmd/a.go", true},
		{"cmd/?.go", "cmd/ab.go", false},

		// Character classes.
		{"src/[a-z]*.go", "src/main.go", true},
		{"src/[A-Z]*.go", "src/main.go", false},
		{"src/[^m]*.go", "src/main.go", false},
		{"src/[^m]*.go", "src/other.go", true},

		// Different depths never overlap without **.
		{"src/a.go", "src/sub/a.go", false},

		// Globstar spans segments.
		{"src/**", "src/deep/nested/file.go", true},
		{"src/**/*.go", "src/a/b/c.go", true},
		{"src/**/*.go", "src/c.go", true},
		{"src/**/*.go", "docs/**/*.md", false},
		{"**", "anything/at/all", true},
		{"**/*.rs", "src/lib.rs", true},
		{"**/*.rs", "src/lib.go", false},
	}
	for _, tt := range tests {
		got, err := PatternsOverlap(tt.a, tt.b)
		if err != nil {
			t.Errorf("PatternsOverlap(%q, %q) error: %v", tt.a, tt.b, err)
			continue
		}
		if got != tt.overlap {
			t.Errorf("PatternsOverlap(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.overlap)
		}
	}
}

func TestPatternsOverlapIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"src/**/*.go", "src/a/b.go"},
		{"internal/*.go", "internal/[a-h]*.go"},
		{"**", "x/y"},
	}
	for _, p := range pairs {
		ab, _ := PatternsOverlap(p[0], p[1])
		ba, _ := PatternsOverlap(p[1], p[0])
		if ab != ba {
			t.Errorf("asymmetric result for %q vs %q: %v / %v", p[0], p[1], ab, ba)
		}
	}
}

func TestOverlapsIsConservativeOnBadPatterns(t *testing.T) {
	if !Overlaps("src/[broken", "src/a.go") {
		t.Fatal("malformed pattern must count as overlapping")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("internal/http/*.go"); err != nil {
		t.Fatalf("normal pattern rejected: %v", err)
	}
	if err := Validate("src/**/*.go"); err != nil {
		t.Fatalf("globstar pattern rejected: %v", err)
	}
	if err := Validate(""); err == nil {
		t.Fatal("empty pattern accepted")
	}
	if err := Validate("src/[oops"); err == nil {
		t.Fatal("malformed class accepted")
	}
	complex := "?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?/?"
	if err := Validate(complex); err == nil {
		t.Fatal("expected complexity error for pattern with many wildcards")
	}
}
