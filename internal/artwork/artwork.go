// Package artwork loads images from local paths, file:// URIs, or HTTP and
// reduces them to a single representative color.
package artwork

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/EdlinOrg/prominentcolor"
	"github.com/disintegration/imaging"
	"github.com/rotisserie/eris"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/cybre/emotive-engine/internal/rgba"
)

const (
	// SampleSize is the edge length images are reduced to before averaging.
	SampleSize = 32
	// SampleAlpha is the alpha attached to sampled base colors.
	SampleAlpha = 0xcc

	defaultFetchTimeout = 2 * time.Second
	maxImageBytes       = 16 << 20
)

var (
	// ErrEmptyImage is returned for images without pixels.
	ErrEmptyImage = eris.New("image has no pixels")
	// ErrUnsupportedURI is returned for URI schemes the loader cannot follow.
	ErrUnsupportedURI = eris.New("unsupported artwork uri")
)

// Sampler reduces an image to one color.
type Sampler func(img image.Image) (rgba.Color, error)

// NewSampler returns the sampler for mode: "prominent" selects k-means, anything
// else the mean pixel color.
func NewSampler(mode string) Sampler {
	if strings.EqualFold(mode, "prominent") {
		return ProminentColor
	}
	return MeanColor
}

// MeanColor downsizes img to SampleSize x SampleSize and averages its pixels.
func MeanColor(img image.Image) (rgba.Color, error) {
	if img == nil || img.Bounds().Empty() {
		return rgba.Color{}, ErrEmptyImage
	}

	small := imaging.Resize(img, SampleSize, SampleSize, imaging.Box)

	var sum [3]uint64
	pixels := uint64(0)
	for i := 0; i+3 < len(small.Pix); i += 4 {
		sum[0] += uint64(small.Pix[i])
		sum[1] += uint64(small.Pix[i+1])
		sum[2] += uint64(small.Pix[i+2])
		pixels++
	}
	if pixels == 0 {
		return rgba.Color{}, ErrEmptyImage
	}

	return rgba.Color{
		R: uint8(sum[0] / pixels),
		G: uint8(sum[1] / pixels),
		B: uint8(sum[2] / pixels),
		A: SampleAlpha,
	}, nil
}

// ProminentColor picks the dominant k-means cluster, falling back to the mean
// when clustering fails.
func ProminentColor(img image.Image) (rgba.Color, error) {
	if img == nil || img.Bounds().Empty() {
		return rgba.Color{}, ErrEmptyImage
	}

	items, err := prominentcolor.KmeansWithAll(3, img, prominentcolor.ArgumentDefault, prominentcolor.DefaultSize, nil)
	if err != nil || len(items) == 0 {
		return MeanColor(img)
	}

	top := items[0]
	return rgba.Color{
		R: uint8(top.Color.R),
		G: uint8(top.Color.G),
		B: uint8(top.Color.B),
		A: SampleAlpha,
	}, nil
}

// Loader opens images referenced by path or URI.
type Loader struct {
	client *http.Client
}

// NewLoader returns a Loader whose HTTP fetches are bounded by timeout.
func NewLoader(timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Loader{client: &http.Client{Timeout: timeout}}
}

// Open resolves uri (plain path, file://, http:// or https://) into an image.
func (l *Loader) Open(ctx context.Context, uri string) (image.Image, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, eris.Wrap(ErrUnsupportedURI, "empty uri")
	}

	if !strings.Contains(uri, "://") {
		return openFile(uri)
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, eris.Wrapf(err, "parse artwork uri %q", uri)
	}

	switch parsed.Scheme {
	case "file":
		return openFile(parsed.Path)
	case "http", "https":
		return l.fetch(ctx, parsed.String())
	default:
		return nil, eris.Wrapf(ErrUnsupportedURI, "scheme %q", parsed.Scheme)
	}
}

func (l *Loader) fetch(ctx context.Context, uri string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create artwork request")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fetch artwork")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("artwork fetch returned status %d", resp.StatusCode)
	}

	return Decode(io.LimitReader(resp.Body, maxImageBytes))
}

// Decode reads any registered image format (png, jpeg, gif, bmp, webp).
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, eris.Wrap(err, "decode image")
	}
	return img, nil
}

func openFile(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open image %s", path)
	}
	return img, nil
}
