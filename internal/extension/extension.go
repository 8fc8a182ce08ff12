// Package extension downloads the Virtru extension from the Chrome Web Store
// update service and unpacks it for side-loading.
package extension

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kuitang/virtru-e2e/internal/errs"
	"github.com/kuitang/virtru-e2e/internal/obs"
)

const (
	DefaultReleasesURL = "https://chromiumdash.appspot.com/fetch_releases"
	DefaultUpdateURL   = "https://clients2.google.com/service/update2/crx"

	crxMagic = "Cr24"
	// maxDownload caps the CRX size; the extension is a few MB.
	maxDownload = 200 << 20
)

// Fetcher resolves, downloads and unpacks the extension.
type Fetcher struct {
	HTTP        *http.Client
	ReleasesURL string
	UpdateURL   string
	GOOS        string
}

// NewFetcher returns a Fetcher against the public endpoints.
func NewFetcher() *Fetcher {
	return &Fetcher{
		HTTP:        &http.Client{Timeout: 2 * time.Minute},
		ReleasesURL: DefaultReleasesURL,
		UpdateURL:   DefaultUpdateURL,
		GOOS:        runtime.GOOS,
	}
}

// Platform is the chromiumdash platform name for goos.
func Platform(goos string) string {
	switch goos {
	case "darwin":
		return "Mac"
	case "windows":
		return "Win"
	}
	return "Linux"
}

// StableVersion asks chromiumdash for the current stable Chrome version.
func (f *Fetcher) StableVersion(ctx context.Context) (string, error) {
	u, err := url.Parse(f.ReleasesURL)
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, "releases url", err)
	}
	q := u.Query()
	q.Set("channel", "Stable")
	q.Set("platform", Platform(f.GOOS))
	q.Set("num", "1")
	u.RawQuery = q.Encode()

	body, err := f.get(ctx, u.String(), 1<<20)
	if err != nil {
		return "", fmt.Errorf("fetch Chrome release info: %w", err)
	}
	var releases []struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &releases); err != nil {
		return "", errs.Wrap(errs.Unavailable, "decode Chrome release info", err)
	}
	if len(releases) == 0 || releases[0].Version == "" {
		return "", errs.New(errs.Unavailable, "stable Chrome version missing from release response")
	}
	return releases[0].Version, nil
}

// CRXURL returns the update-service URL that redirects to the CRX3 for id.
func (f *Fetcher) CRXURL(id, prodVersion string) string {
	q := url.Values{}
	q.Set("response", "redirect")
	q.Set("prodversion", prodVersion)
	q.Set("acceptformat", "crx3")
	q.Set("prod", "chrome")
	q.Set("x", "id="+id+"&installsource=ondemand&uc")
	return f.UpdateURL + "?" + q.Encode()
}

// Download fetches the CRX for id.
func (f *Fetcher) Download(ctx context.Context, id, prodVersion string) ([]byte, error) {
	body, err := f.get(ctx, f.CRXURL(id, prodVersion), maxDownload)
	if err != nil {
		return nil, fmt.Errorf("download extension: %w", err)
	}
	return body, nil
}

// Fetch resolves the Chrome version (unless prodVersion is set), downloads
// the extension and unpacks it into outDir, replacing what was there.
func (f *Fetcher) Fetch(ctx context.Context, id, prodVersion, outDir string) error {
	log := obs.From(ctx)
	log.Info("extension_download_start", "pkg", "extension", "id", id)
	if prodVersion == "" {
		v, err := f.StableVersion(ctx)
		if err != nil {
			return err
		}
		prodVersion = v
	}
	log.Info("extension_chrome_version", "pkg", "extension", "version", prodVersion)

	crx, err := f.Download(ctx, id, prodVersion)
	if err != nil {
		return err
	}
	zipData, err := ZipPayload(crx)
	if err != nil {
		return err
	}
	if err := Unpack(zipData, outDir); err != nil {
		return err
	}
	log.Info("extension_extracted", "pkg", "extension", "dir", outDir)
	return nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "build request", err)
	}
	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.Unavailable, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "read body", err)
	}
	return body, nil
}

// ZipPayload strips the CRX3 header: magic, version, then a little-endian
// header length at bytes 8..12 followed by that many header bytes.
func ZipPayload(crx []byte) ([]byte, error) {
	if len(crx) < 12 || string(crx[:4]) != crxMagic {
		return nil, errs.New(errs.InvalidArgument, "downloaded file is not a valid CRX archive")
	}
	headerLen := binary.LittleEndian.Uint32(crx[8:12])
	start := uint64(12) + uint64(headerLen)
	if start > uint64(len(crx)) {
		return nil, errs.New(errs.InvalidArgument, "CRX header length exceeds file size")
	}
	return crx[start:], nil
}

// Unpack extracts zipData into outDir after removing outDir. Entries that
// would escape outDir are rejected.
func Unpack(zipData []byte, outDir string) error {
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "open extension zip", err)
	}
	if err := os.RemoveAll(outDir); err != nil {
		return errs.Wrap(errs.Internal, "clear output dir", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errs.Wrap(errs.Internal, "create output dir", err)
	}
	root, err := filepath.Abs(outDir)
	if err != nil {
		return errs.Wrap(errs.Internal, "resolve output dir", err)
	}

	for _, zf := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(zf.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("zip entry %q escapes output dir", zf.Name))
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errs.Wrap(errs.Internal, "create dir", err)
			}
			continue
		}
		if err := extractFile(zf, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errs.Wrap(errs.Internal, "create dir", err)
	}
	rc, err := zf.Open()
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, fmt.Sprintf("open %s", zf.Name), err)
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.Internal, fmt.Sprintf("create %s", zf.Name), err)
	}
	if _, err := io.Copy(out, io.LimitReader(rc, maxDownload)); err != nil {
		out.Close()
		return errs.Wrap(errs.Internal, fmt.Sprintf("write %s", zf.Name), err)
	}
	return out.Close()
}
