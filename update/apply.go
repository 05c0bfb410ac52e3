package update

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Apply downloads the release binary next to the running executable,
// verifies it against the published checksums, and swaps it into
// place. The swap is two renames on the same filesystem; if the second
// fails the previous binary is restored.
func Apply(rel *Release) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("resolve symlinks: %w", err)
	}

	tmpPath, sum, err := download(rel.AssetURL, filepath.Dir(execPath))
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if rel.ChecksumURL != "" {
		want, err := publishedChecksum(rel.ChecksumURL, assetName())
		if err != nil {
			return fmt.Errorf("fetch checksums: %w", err)
		}
		if sum != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", sum[:12], want[:12])
		}
	}
	if err := os.Chmod(tmpPath, 0755); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	return swapBinary(execPath, tmpPath)
}

// download fetches url into a temp file inside dir (the executable's
// own directory, so the final rename never crosses filesystems) and
// returns the temp path plus the hex sha256 of what was written.
func download(url, dir string) (string, string, error) {
	tmp, err := os.CreateTemp(dir, ".lexvoice-release-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) (string, string, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return "", "", err
	}

	resp, err := http.Get(url)
	if err != nil {
		return fail(fmt.Errorf("download binary: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("download binary: %s", resp.Status))
	}

	hasher := sha256.New()
	src := io.Reader(resp.Body)
	if resp.ContentLength > 0 {
		src = &progressReader{r: resp.Body, total: resp.ContentLength}
	}
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), src); err != nil {
		return fail(fmt.Errorf("write binary: %w", err))
	}
	if resp.ContentLength > 0 {
		fmt.Fprintln(os.Stderr)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", "", fmt.Errorf("write binary: %w", err)
	}
	return tmpPath, hex.EncodeToString(hasher.Sum(nil)), nil
}

// progressReader mirrors download progress to one stderr line,
// repainting only on whole-percent steps.
type progressReader struct {
	r       io.Reader
	total   int64
	read    int64
	lastPct int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if pct := int(p.read * 100 / p.total); pct != p.lastPct {
		p.lastPct = pct
		fmt.Fprintf(os.Stderr, "\r  %d%% (%d / %d KB)", pct, p.read/1024, p.total/1024)
	}
	return n, err
}

// publishedChecksum scans a goreleaser checksums.txt for the named
// asset's sha256.
func publishedChecksum(url, filename string) (string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("checksums: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[1] == filename {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("no checksum for %s", filename)
}

func swapBinary(execPath, newPath string) error {
	prev := execPath + ".prev"
	if err := os.Rename(execPath, prev); err != nil {
		return fmt.Errorf("back up current binary: %w", err)
	}
	if err := os.Rename(newPath, execPath); err != nil {
		_ = os.Rename(prev, execPath)
		return fmt.Errorf("install new binary: %w", err)
	}
	_ = os.Remove(prev)
	return nil
}
