// Package bing talks to the Bing Maps REST services for elevations, static
// imagery and geocoding.
package bing

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/OCharnyshevich/geoterrain/internal/server/mapsource"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
)

// DefaultBaseURL is the public REST endpoint.
const DefaultBaseURL = "http://dev.virtualearth.net/REST/v1"

// HTTPClient is the subset of *http.Client the client needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements mapsource.ElevationSource, ImageSource, GeocodeSource
// and BoundsSource.
type Client struct {
	http    HTTPClient
	baseURL string
	key     string
	imagery string
	log     *slog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Key        string
	ImagerySet string // Aerial, AerialWithLabels or Road
	HTTP       HTTPClient
	Log        *slog.Logger
}

// New creates a client. Zero options fall back to the public endpoint, the
// Aerial imagery set and http.DefaultClient.
func New(opts Options) *Client {
	c := &Client{
		http:    opts.HTTP,
		baseURL: opts.BaseURL,
		key:     opts.Key,
		imagery: opts.ImagerySet,
		log:     opts.Log,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.imagery == "" {
		c.imagery = "Aerial"
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

type response[R any] struct {
	StatusCode        int    `json:"statusCode"`
	StatusDescription string `json:"statusDescription"`
	ResourceSets      []struct {
		Resources []R `json:"resources"`
	} `json:"resourceSets"`
}

func (r *response[R]) first() (R, error) {
	var zero R
	if r.StatusDescription != "OK" {
		return zero, fmt.Errorf("%w: status %q", mapsource.ErrFetch, r.StatusDescription)
	}
	if len(r.ResourceSets) == 0 || len(r.ResourceSets[0].Resources) == 0 {
		return zero, fmt.Errorf("%w: empty resource set", mapsource.ErrFetch)
	}
	return r.ResourceSets[0].Resources[0], nil
}

type elevationResource struct {
	Elevations []int `json:"elevations"`
	ZoomLevel  int   `json:"zoomLevel"`
}

type locationResource struct {
	Name  string `json:"name"`
	Point struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"point"`
}

type metadataResource struct {
	BBox []float64 `json:"bbox"`
}

// Elevations calls Elevation/Bounds with sea-level heights.
func (c *Client) Elevations(ctx context.Context, bbox geo.BBox, rows, cols int) ([]int, error) {
	q := url.Values{}
	q.Set("bounds", bbox.String())
	q.Set("rows", strconv.Itoa(rows))
	q.Set("cols", strconv.Itoa(cols))
	q.Set("heights", "sealevel")

	var resp response[elevationResource]
	if err := c.getJSON(ctx, "/Elevation/Bounds", q, &resp); err != nil {
		return nil, err
	}
	res, err := resp.first()
	if err != nil {
		return nil, err
	}
	if len(res.Elevations) != rows*cols {
		return nil, fmt.Errorf("%w: got %d elevations, want %d", mapsource.ErrFetch, len(res.Elevations), rows*cols)
	}
	return res.Elevations, nil
}

// Image fetches a square static map centered on center.
func (c *Client) Image(ctx context.Context, center geo.LatLon, zoom, pixelSize int) (image.Image, error) {
	q := url.Values{}
	q.Set("mapSize", fmt.Sprintf("%d,%d", pixelSize, pixelSize))
	q.Set("mapMetadata", "0")

	body, err := c.get(ctx, c.mapPath(center, zoom), q)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	img, _, err := image.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode imagery: %v", mapsource.ErrFetch, err)
	}
	return img, nil
}

// Bounds asks the imagery metadata endpoint for the box a map of mapSize
// pixels covers.
func (c *Client) Bounds(ctx context.Context, center geo.LatLon, zoom, mapSize int) (geo.BBox, error) {
	q := url.Values{}
	q.Set("mapSize", fmt.Sprintf("%d,%d", mapSize, mapSize))
	q.Set("mapMetadata", "1")

	var resp response[metadataResource]
	if err := c.getJSON(ctx, c.mapPath(center, zoom), q, &resp); err != nil {
		return geo.BBox{}, err
	}
	res, err := resp.first()
	if err != nil {
		return geo.BBox{}, err
	}
	if len(res.BBox) != 4 {
		return geo.BBox{}, fmt.Errorf("%w: bbox has %d values", mapsource.ErrFetch, len(res.BBox))
	}
	return geo.BBox{South: res.BBox[0], West: res.BBox[1], North: res.BBox[2], East: res.BBox[3]}, nil
}

// Resolve geocodes a free-text address, keeping the best match.
func (c *Client) Resolve(ctx context.Context, query string) (geo.LatLon, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("maxResults", "1")

	var resp response[locationResource]
	if err := c.getJSON(ctx, "/Locations", q, &resp); err != nil {
		return geo.LatLon{}, err
	}
	res, err := resp.first()
	if err != nil {
		return geo.LatLon{}, err
	}
	if len(res.Point.Coordinates) != 2 {
		return geo.LatLon{}, fmt.Errorf("%w: no coordinates for %q", mapsource.ErrFetch, query)
	}
	c.log.Debug("geocoded location", "query", query, "name", res.Name)
	return geo.LatLon{Lat: res.Point.Coordinates[0], Lon: res.Point.Coordinates[1]}, nil
}

func (c *Client) mapPath(center geo.LatLon, zoom int) string {
	return fmt.Sprintf("/Imagery/Map/%s/%s/%d", c.imagery, center, zoom)
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	body, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", mapsource.ErrFetch, path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (io.ReadCloser, error) {
	q.Set("key", c.key)
	u := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", mapsource.ErrFetch, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", mapsource.ErrFetch, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: http %d", mapsource.ErrFetch, path, resp.StatusCode)
	}
	return resp.Body, nil
}
