package comet

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"adflow/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("comet: api key is required")

// ErrMissingHandle indicates a submission response without a generation id.
var ErrMissingHandle = errors.New("comet: response contained no generation id")

// Options configures the CometAPI client.
type Options struct {
	APIKey         string
	BaseURL        string
	VideoModel     string
	ImageModel     string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the CometAPI generative-media endpoints.
type Client struct {
	apiKey     string
	baseURL    string
	videoModel string
	imageModel string
	httpClient *http.Client
	logger     *infra.Logger
}

// VideoRequest captures the inputs for one video generation submission.
type VideoRequest struct {
	Prompt  string
	Model   string
	Seconds int
	Size    string
}

// ImageRequest captures the inputs for one image generation submission.
// SourceImage, when present, switches the provider into image-to-image mode.
type ImageRequest struct {
	Prompt      string
	Model       string
	Size        string
	SourceImage []byte
}

// Content is the result of polling a generation handle. Exactly one of Data
// or URL is meaningful when Ready is true: Data holds downloaded bytes,
// URL references content the provider serves directly.
type Content struct {
	Ready bool
	Data  []byte
	URL   string
	MIME  string
}

type videoCreateResponse struct {
	ID string `json:"id"`
}

type imageCreateResponse struct {
	URL  string `json:"url"`
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

type contentMetadata struct {
	URL        string `json:"url"`
	ContentURL string `json:"content_url"`
	VideoURL   string `json:"video_url"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.cometapi.com/v1"
	}
	videoModel := strings.TrimSpace(opts.VideoModel)
	if videoModel == "" {
		videoModel = "sora-2-pro"
	}
	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = "flux-1.1-pro"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		videoModel: videoModel,
		imageModel: imageModel,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// CreateVideo submits a video generation request and returns the opaque
// generation handle used for content polling.
func (c *Client) CreateVideo(ctx context.Context, req VideoRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	model := req.Model
	if model == "" {
		model = c.videoModel
	}
	seconds := req.Seconds
	if seconds <= 0 {
		seconds = 5
	}
	size := req.Size
	if size == "" {
		size = "720x1280"
	}
	body := map[string]any{
		"prompt":  req.Prompt,
		"model":   model,
		"seconds": seconds,
		"size":    size,
	}
	var resp videoCreateResponse
	if err := c.postJSON(ctx, "/videos", body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return "", ErrMissingHandle
	}
	return resp.ID, nil
}

// CreateImage submits an image generation request. Image generation resolves
// synchronously: the provider responds with the URL of the finished asset.
func (c *Client) CreateImage(ctx context.Context, req ImageRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	model := req.Model
	if model == "" {
		model = c.imageModel
	}
	size := req.Size
	if size == "" {
		size = "1024x1024"
	}
	body := map[string]any{
		"prompt": req.Prompt,
		"model":  model,
		"size":   size,
	}
	if len(req.SourceImage) > 0 {
		body["image"] = base64.StdEncoding.EncodeToString(req.SourceImage)
	}
	var resp imageCreateResponse
	if err := c.postJSON(ctx, "/images", body, &resp); err != nil {
		return "", err
	}
	imageURL := strings.TrimSpace(resp.URL)
	if imageURL == "" && len(resp.Data) > 0 {
		imageURL = strings.TrimSpace(resp.Data[0].URL)
	}
	if imageURL == "" {
		return "", ErrMissingHandle
	}
	return imageURL, nil
}

// FetchVideoContent polls the content endpoint for the given handle. A 202 or
// 404 means the provider is still working and is not an error. A binary
// response means the asset is ready and is returned inline; a JSON response
// is ready only when it names a content URL.
func (c *Client) FetchVideoContent(ctx context.Context, handle string) (*Content, error) {
	endpoint := fmt.Sprintf("%s/videos/%s/content", c.baseURL, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return &Content{Ready: false}, nil
	case resp.StatusCode != http.StatusOK:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("comet: content poll status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "video/") || strings.Contains(contentType, "application/octet-stream") {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("comet: read content body: %w", err)
		}
		return &Content{Ready: true, Data: data, URL: endpoint, MIME: contentType}, nil
	}
	if strings.Contains(contentType, "application/json") {
		var meta contentMetadata
		if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
			return nil, fmt.Errorf("comet: decode content metadata: %w", err)
		}
		url := firstNonEmpty(meta.URL, meta.ContentURL, meta.VideoURL)
		if url == "" {
			return &Content{Ready: false}, nil
		}
		return &Content{Ready: true, URL: url, MIME: "video/mp4"}, nil
	}
	c.logger.Warn().Str("content_type", contentType).Msg("comet: unexpected content type while polling")
	return &Content{Ready: false}, nil
}

// Download fetches the asset bytes at the given URL, attaching credentials
// when the URL points back at the provider.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(url, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comet: download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error().Int("status", resp.StatusCode).Str("path", path).Msg("comet: submission rejected")
		return fmt.Errorf("comet: %s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
