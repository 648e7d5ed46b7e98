package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/use-agent/edenscrape/models"
)

// Options configures an AssetCache for one run.
type Options struct {
	// Root is the asset directory, e.g. <outputDir>/character_art.
	Root string

	// BaseURL resolves relative asset references.
	BaseURL string

	UserAgent   string
	GetTimeout  time.Duration
	HeadTimeout time.Duration

	// Delay follows every real download.
	Delay time.Duration
}

// AssetCache resolves remote icon references to files below Root. The
// filesystem is the cache: an existing non-empty file at the computed path
// is a hit and costs no network round trip.
type AssetCache struct {
	opts   Options
	base   *url.URL
	client *resty.Client

	mu     sync.Mutex
	memo   map[string]string // absolute URL -> computed path
	claims map[string]string // computed path -> absolute URL

	downloads int
}

// New creates an AssetCache. It does not touch the filesystem; call
// EnsureLayout first.
func New(opts Options) (*AssetCache, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse base url: %w", err)
	}

	client := resty.New().
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	return &AssetCache{
		opts:   opts,
		base:   base,
		client: client,
		memo:   make(map[string]string),
		claims: make(map[string]string),
	}, nil
}

// EnsureLayout creates the icon subdirectories below root. It is idempotent.
func EnsureLayout(root string) error {
	for _, kind := range []models.AssetKind{models.AssetIcon, models.AssetSecondary} {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0o755); err != nil {
			return fmt.Errorf("cache: create %s: %w", kind, err)
		}
	}
	return nil
}

// Downloads returns how many assets were fetched over the network.
func (c *AssetCache) Downloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downloads
}

// Resolve returns the local file for ref, downloading it when no non-empty
// file exists at the computed path. Every failure is an ASSET_FAILED error;
// callers treat it as "no local asset".
func (c *AssetCache) Resolve(ctx context.Context, ref models.AssetRef) (*models.CachedAsset, error) {
	if strings.TrimSpace(ref.URL) == "" {
		return nil, models.NewScrapeError(models.ErrCodeAsset, "empty asset reference", nil)
	}
	abs, err := c.absolute(ref.URL)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeAsset, "download error (other) for "+shortName(ref.URL), err)
	}

	dest, err := c.pathFor(ctx, abs, ref.Kind)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeAsset, "download error (other) for "+shortName(abs), err)
	}

	if info, statErr := os.Stat(dest); statErr == nil && info.Mode().IsRegular() && info.Size() > 0 {
		return &models.CachedAsset{Path: dest, Size: info.Size()}, nil
	}

	size, err := c.download(ctx, abs, dest)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeAsset,
			fmt.Sprintf("download error (%s) for %s", errorKind(err), shortName(abs)), err)
	}

	c.mu.Lock()
	c.downloads++
	c.mu.Unlock()

	if err := sleepCtx(ctx, c.opts.Delay); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeAsset, "download interrupted for "+shortName(abs), err)
	}
	return &models.CachedAsset{Path: dest, Size: size, Downloaded: true}, nil
}

func (c *AssetCache) absolute(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return c.base.ResolveReference(u).String(), nil
}

// pathFor computes (or recalls) the destination of abs. A path already
// claimed by a different URL during this run moves to the next free
// "name (n).ext" slot.
func (c *AssetCache) pathFor(ctx context.Context, abs string, kind models.AssetKind) (string, error) {
	c.mu.Lock()
	if p, ok := c.memo[abs]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	name, err := c.filename(ctx, abs)
	if err != nil {
		return "", err
	}
	if kind == "" {
		kind = models.AssetIcon
	}
	dest := filepath.Join(c.opts.Root, string(kind), name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.memo[abs]; ok {
		return p, nil
	}
	if owner, taken := c.claims[dest]; taken && owner != abs {
		dest = nextSlot(dest, func(p string) bool {
			_, used := c.claims[p]
			return used
		})
	}
	c.memo[abs] = dest
	c.claims[dest] = abs
	return dest, nil
}

var placeholderScripts = map[string]bool{
	"thumb.php": true,
	"index.php": true,
}

var reservedChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// filename derives the local file name for abs. Order: the "f" query
// parameter, the URL path basename, then a slug of the last URL segment
// when the name is empty or a placeholder script.
func (c *AssetCache) filename(ctx context.Context, abs string) (string, error) {
	name, err := DeriveName(abs)
	if err != nil {
		return "", err
	}

	ext := path.Ext(name)
	if ext == "" || len(ext) > 5 {
		base := strings.TrimSuffix(name, ext)
		name = base + c.probeExtension(ctx, abs)
	}

	name = reservedChars.ReplaceAllString(name, "_")
	return truncateRunes(name, 200), nil
}

// DeriveName returns the file name encoded in an asset URL before any
// extension probing or sanitizing.
func DeriveName(abs string) (string, error) {
	u, err := url.Parse(abs)
	if err != nil {
		return "", err
	}

	var name string
	if f := u.Query().Get("f"); f != "" {
		name = path.Base(f)
	} else {
		name = path.Base(u.Path)
	}
	if name == "." || name == ".." || name == "/" {
		name = ""
	}

	if name == "" || placeholderScripts[strings.ToLower(name)] {
		last := abs
		if i := strings.LastIndex(last, "/"); i >= 0 {
			last = last[i+1:]
		}
		if i := strings.Index(last, "?"); i >= 0 {
			last = last[:i]
		}
		if unescaped, uerr := url.PathUnescape(last); uerr == nil {
			last = unescaped
		}
		if last == "" {
			return "unknown_image.png", nil
		}
		return truncateRunes(last, 50) + ".png", nil
	}
	return name, nil
}

// canonicalExt maps image content types to the extension written to disk.
var canonicalExt = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/pjpeg":   ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
	"image/x-icon":  ".ico",
}

// probeExtension asks the server for the asset's content type. Any failure
// or unknown type falls back to ".png".
func (c *AssetCache) probeExtension(ctx context.Context, abs string) string {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HeadTimeout)
	defer cancel()

	resp, err := c.client.R().
		SetContext(ctx).
		Head(abs)
	if err != nil || resp.IsError() {
		slog.Debug("asset content-type probe failed", "url", abs, "error", err)
		return ".png"
	}
	return extensionFor(resp.Header().Get("Content-Type"))
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		return ".png"
	}
	if ext, ok := canonicalExt[mediaType]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		if exts[0] == ".jpe" {
			return ".jpg"
		}
		return exts[0]
	}
	return ".png"
}

// download streams abs into dest via a .part file so an interrupted
// transfer never leaves a file that looks like a cache hit.
func (c *AssetCache) download(ctx context.Context, abs, dest string) (int64, error) {
	if c.opts.GetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.GetTimeout)
		defer cancel()
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(abs)
	if err != nil {
		return 0, err
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() || resp.StatusCode() < 200 {
		return 0, &statusError{code: resp.StatusCode()}
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil && n == 0 {
		copyErr = errors.New("empty body")
	}
	if copyErr != nil {
		_ = os.Remove(part)
		return 0, copyErr
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return 0, err
	}
	return n, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// errorKind labels a download failure for the run log.
func errorKind(err error) string {
	var se *statusError
	var ne net.Error
	switch {
	case errors.As(err, &se), errors.As(err, &ne),
		errors.Is(err, context.DeadlineExceeded):
		return "network"
	default:
		return "other"
	}
}

func shortName(u string) string {
	if i := strings.LastIndex(u, "/"); i >= 0 {
		u = u[i+1:]
	}
	return truncateRunes(u, 30) + "..."
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
