// Package fetch downloads pinned source archives over HTTPS and verifies
// their sha256 digests.
package fetch

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
)

// ErrChecksum is returned when a download does not match its pinned digest.
var ErrChecksum = eris.New("checksum mismatch")

// Options configures a Fetcher.
type Options struct {
	// Timeout bounds a single download. Zero means no limit beyond ctx.
	Timeout time.Duration
	// CABundle is a PEM file trusted in addition to the system roots.
	CABundle string
	// Progress shows a progress bar on Output. It stays hidden otherwise.
	Progress bool
	Output   io.Writer
}

// Fetcher downloads files into a directory.
type Fetcher struct {
	dir      string
	client   *http.Client
	progress bool
	out      io.Writer
}

// Request describes one download.
type Request struct {
	URL string
	// File is the name the download is stored under.
	File string
	// Sha256 is the pinned digest. Empty means unpinned.
	Sha256 string
	// Known is the digest observed for this URL by a previous run. An
	// existing file with that digest is reused when nothing is pinned.
	Known string
}

// Result describes a finished download.
type Result struct {
	Path   string
	Sha256 string
	Cached bool
}

// New returns a Fetcher storing downloads in dir. Certificate validation
// is always on.
func New(dir string, opts Options) (*Fetcher, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if opts.CABundle != "" {
		pem, err := os.ReadFile(opts.CABundle)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read CA bundle %s", opts.CABundle)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, eris.Errorf("no certificates found in %s", opts.CABundle)
		}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return &Fetcher{
		dir: dir,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		progress: opts.Progress,
		out:      out,
	}, nil
}

// Dir returns the download directory.
func (f *Fetcher) Dir() string { return f.dir }

// Fetch downloads req.URL unless a matching file is already present. A
// pinned digest that does not match fails with ErrChecksum and leaves no
// file behind.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	dest := filepath.Join(f.dir, req.File)
	want := req.Sha256
	if want == "" {
		want = req.Known
	}
	if want != "" {
		if sum, err := FileSum(dest); err == nil && sum == want {
			return Result{Path: dest, Sha256: sum, Cached: true}, nil
		}
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return Result{}, eris.Wrapf(err, "failed to create %s", f.dir)
	}
	sum, err := f.download(ctx, req.URL, dest)
	if err != nil {
		return Result{}, err
	}
	if req.Sha256 != "" && sum != req.Sha256 {
		os.Remove(dest)
		return Result{}, eris.Wrapf(ErrChecksum, "%s: got %s, want %s", req.URL, sum, req.Sha256)
	}
	return Result{Path: dest, Sha256: sum}, nil
}

func (f *Fetcher) download(ctx context.Context, url, dest string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", eris.Wrapf(err, "invalid url %s", url)
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", eris.Wrapf(err, "failed to start download for %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("download of %s failed: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(f.dir, ".download-*")
	if err != nil {
		return "", eris.Wrap(err, "failed to create temporary file")
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hash := sha256.New()
	bar := f.bar(resp.ContentLength, "download "+filepath.Base(dest))
	if _, err := io.Copy(io.MultiWriter(tmp, hash, bar), resp.Body); err != nil {
		return "", eris.Wrapf(err, "failed during download of %s", url)
	}
	bar.Finish()
	if err := tmp.Close(); err != nil {
		return "", eris.Wrapf(err, "failed to write download of %s", url)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", eris.Wrapf(err, "failed to move download to %s", dest)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func (f *Fetcher) bar(length int64, desc string) *progressbar.ProgressBar {
	if !f.progress {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}
	return progressbar.NewOptions64(length,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(f.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(f.out, "\n")
		}),
	)
}

// FileSum returns the hex sha256 of a file.
func FileSum(file string) (string, error) {
	fh, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer fh.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, fh); err != nil {
		return "", eris.Wrapf(err, "failed to hash %s", file)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
