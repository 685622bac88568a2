package n8n

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"adflow/internal/infra"
)

// ErrNotConfigured indicates that no webhook URL was provided.
var ErrNotConfigured = errors.New("n8n: webhook url is not configured")

// Upload is one file forwarded alongside the submission fields.
type Upload struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Options configures the workflow engine client.
type Options struct {
	WebhookURL string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client forwards campaign submissions to the external workflow engine. The
// engine answers later through the callback endpoint, so forwarding waits for
// delivery only, never for results.
type Client struct {
	webhookURL string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a workflow engine client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
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
		webhookURL: strings.TrimSpace(opts.WebhookURL),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Configured reports whether a webhook URL was provided.
func (c *Client) Configured() bool {
	return c != nil && c.webhookURL != ""
}

// Forward delivers the submission to the workflow engine as multipart form
// data with the job id appended, so the engine knows what to call back with.
func (c *Client) Forward(ctx context.Context, jobID string, fields map[string]string, files []Upload) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return fmt.Errorf("n8n: write field %q: %w", key, err)
		}
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Filename))
		if file.ContentType != "" {
			header.Set("Content-Type", file.ContentType)
		}
		part, err := mw.CreatePart(header)
		if err != nil {
			return fmt.Errorf("n8n: create part %q: %w", file.Field, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return fmt.Errorf("n8n: write part %q: %w", file.Field, err)
		}
	}
	if err := mw.WriteField("job_id", jobID); err != nil {
		return fmt.Errorf("n8n: write job id: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("n8n: deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("n8n: webhook status %d", resp.StatusCode)
	}
	c.logger.Debug().Str("job_id", jobID).Msg("n8n: submission forwarded")
	return nil
}
