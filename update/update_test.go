package update

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input string
		want  [3]int
		ok    bool
	}{
		{"1.2.3", [3]int{1, 2, 3}, true},
		{"v0.1.5", [3]int{0, 1, 5}, true},
		{"v1.0.0-dirty", [3]int{1, 0, 0}, true},
		{"v2.3.4-rc1+build", [3]int{2, 3, 4}, true},
		{"1.2.3+meta", [3]int{1, 2, 3}, true},
		{"dev", [3]int{}, false},
		{"", [3]int{}, false},
		{"1.2", [3]int{}, false},
		{"1.2.3.4", [3]int{}, false},
		{"1.-2.3", [3]int{}, false},
	}

	for _, tt := range tests {
		got, ok := parseVersion(tt.input)
		if ok != tt.ok {
			t.Errorf("parseVersion(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("parseVersion(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestReleaseNewerThan(t *testing.T) {
	tests := []struct {
		release string
		current string
		want    bool
	}{
		{"v0.2.0", "v0.1.5", true},
		{"v0.1.5", "v0.1.5", false},
		{"v0.1.4", "v0.1.5", false},
		{"v1.0.0", "v0.9.9", true},
		{"v0.1.6", "v0.1.5-dirty", true},
		{"v0.1.5", "dev", false},
		{"invalid", "v0.1.5", false},
	}

	for _, tt := range tests {
		r := Release{Version: tt.release}
		if got := r.NewerThan(tt.current); got != tt.want {
			t.Errorf("Release{%q}.NewerThan(%q) = %v, want %v", tt.release, tt.current, got, tt.want)
		}
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()

	rel := &Release{Version: "v0.2.0", AssetURL: "https://example.com/lexvoice", ChecksumURL: "https://example.com/checksums.txt"}
	writeCache(dir, rel)
	got, ok := readCache(dir)
	if !ok || got == nil {
		t.Fatalf("readCache = %+v, %v; want a hit", got, ok)
	}
	if *got != *rel {
		t.Errorf("readCache = %+v, want %+v", got, rel)
	}

	// "Up to date" is cached too: a hit that carries no release.
	writeCache(dir, nil)
	got, ok = readCache(dir)
	if !ok || got != nil {
		t.Errorf("cached no-update = %+v, %v; want nil, true", got, ok)
	}
}

func TestCacheMisses(t *testing.T) {
	dir := t.TempDir()

	if _, ok := readCache(dir); ok {
		t.Error("hit with no cache file")
	}

	if err := os.WriteFile(cachePath(dir), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := readCache(dir); ok {
		t.Error("hit on a corrupt cache file")
	}

	stale, err := json.Marshal(checkCache{CheckedAt: time.Now().Add(-cacheTTL - time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cachePath(dir), stale, 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := readCache(dir); ok {
		t.Error("hit on an expired cache entry")
	}
}
