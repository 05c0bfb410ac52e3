package update

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Background checks are deliberately lazy: a resident assistant has no
// business polling GitHub all day, and the first check waits until
// startup traffic (client warm-up, device probing) is out of the way.
const (
	cacheFile     = "release_check.json"
	cacheTTL      = 12 * time.Hour
	checkDelay    = 30 * time.Second
	checkInterval = 6 * time.Hour
	apiTimeout    = 10 * time.Second
)

var apiClient = &http.Client{Timeout: apiTimeout}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
	Assets     []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// assetName is the goreleaser naming scheme for this platform's build.
func assetName() string {
	name := fmt.Sprintf("%s_%s_%s", BinaryName, runtime.GOOS, runtime.GOARCH)
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return name
}

// CheckLatest asks GitHub for the newest release and returns it when
// it would upgrade currentVersion; (nil, nil) means up to date. Dev
// builds and prereleases never update.
func CheckLatest(currentVersion string) (*Release, error) {
	if currentVersion == "dev" {
		return nil, nil
	}
	gh, err := fetchLatestRelease()
	if err != nil {
		return nil, err
	}
	if gh.Prerelease {
		return nil, nil
	}
	rel, err := releaseAssets(gh)
	if err != nil {
		return nil, err
	}
	if !rel.NewerThan(currentVersion) {
		return nil, nil
	}
	return rel, nil
}

func fetchLatestRelease() (*githubRelease, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", Repo)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github api: %s", resp.Status)
	}

	var gh githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
		return nil, err
	}
	return &gh, nil
}

// releaseAssets picks this platform's binary and the checksums file
// out of a release's asset list.
func releaseAssets(gh *githubRelease) (*Release, error) {
	rel := &Release{Version: gh.TagName}
	want := assetName()
	for _, a := range gh.Assets {
		switch a.Name {
		case want:
			rel.AssetURL = a.BrowserDownloadURL
		case "checksums.txt":
			rel.ChecksumURL = a.BrowserDownloadURL
		}
	}
	if rel.AssetURL == "" {
		return nil, fmt.Errorf("release %s has no asset %q", gh.TagName, want)
	}
	return rel, nil
}

// checkCache is the on-disk record of the last answer from GitHub. A
// nil Release means the check ran and found nothing newer.
type checkCache struct {
	CheckedAt time.Time `json:"checked_at"`
	Release   *Release  `json:"release,omitempty"`
}

func cachePath(cacheDir string) string {
	return filepath.Join(cacheDir, cacheFile)
}

func readCache(cacheDir string) (*Release, bool) {
	data, err := os.ReadFile(cachePath(cacheDir))
	if err != nil {
		return nil, false
	}
	var c checkCache
	if json.Unmarshal(data, &c) != nil {
		return nil, false
	}
	if time.Since(c.CheckedAt) > cacheTTL {
		return nil, false
	}
	return c.Release, true
}

func writeCache(cacheDir string, rel *Release) {
	data, err := json.Marshal(checkCache{CheckedAt: time.Now(), Release: rel})
	if err != nil {
		return
	}
	if os.MkdirAll(cacheDir, 0755) != nil {
		return
	}
	_ = os.WriteFile(cachePath(cacheDir), data, 0644)
}

// CheckLatestCached consults the on-disk cache before GitHub, so
// repeated launches inside the TTL cost nothing.
func CheckLatestCached(currentVersion, cacheDir string) (*Release, error) {
	if currentVersion == "dev" {
		return nil, nil
	}
	if rel, ok := readCache(cacheDir); ok {
		return rel, nil
	}
	rel, err := CheckLatest(currentVersion)
	if err != nil {
		return nil, err
	}
	writeCache(cacheDir, rel)
	return rel, nil
}

// StartBackgroundCheck announces newer releases through notify while
// the assistant runs.
func StartBackgroundCheck(currentVersion, cacheDir string, notify func(Release)) {
	if currentVersion == "dev" {
		return
	}
	go func() {
		time.Sleep(checkDelay)
		for {
			if rel, err := CheckLatestCached(currentVersion, cacheDir); err == nil && rel != nil {
				notify(*rel)
			}
			time.Sleep(checkInterval)
		}
	}()
}
