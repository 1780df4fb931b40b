package provider

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

	"github.com/pixforge/pixforge/internal/config"
	"github.com/pixforge/pixforge/internal/logging"
	"github.com/rs/zerolog/log"
)

// Client errors
var (
	ErrTimeout    = errors.New("provider request timed out")
	ErrUpstream   = errors.New("provider request failed")
	ErrInvalidKey = errors.New("provider rejected the API key")
)

// Part is one ordered content part of a provider request or response
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64-encoded image bytes with a MIME type
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// TextPart builds a text content part
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart builds an inline image content part from raw bytes
func ImagePart(data []byte, mimeType string) Part {
	return Part{InlineData: &InlineData{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

// Image is a decoded image returned by the provider
type Image struct {
	Data     []byte
	MIMEType string
}

// Response is the usable content of one provider round trip: zero or more
// images and an optional text part (segmentation mode returns JSON text).
type Response struct {
	Images []Image
	Text   string
}

// SegmentMask is one entry of a segmentation response. Box is [x, y, w, h]
// in pixel coordinates; Mask is a base64-encoded PNG.
type SegmentMask struct {
	Label string `json:"label"`
	Box   [4]int `json:"box_2d"`
	Mask  string `json:"mask"`
}

// Client calls the generative image provider's generateContent endpoint
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewClient creates a provider client with a bounded request timeout
func NewClient(cfg *config.ProviderConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
	}
}

// Model returns the configured provider model name
func (c *Client) Model() string {
	return c.model
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// GenerateContent sends ordered parts to the provider under the given API
// key and collects the returned inline images and text
func (c *Client) GenerateContent(ctx context.Context, apiKey string, parts []Part) (*Response, error) {
	reqBody, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error().
			Int("status", resp.StatusCode).
			Str("model", c.model).
			Dur("latency", time.Since(start)).
			Str("body", logging.SanitizeForLog(string(body), 1024)).
			Msg("Provider error")
		if isInvalidKeyBody(resp.StatusCode, string(body)) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return collect(&genResp)
}

// collect flattens candidate parts into images and concatenated text
func collect(genResp *generateResponse) (*Response, error) {
	out := &Response{}
	var text strings.Builder
	for _, cand := range genResp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil {
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					log.Warn().Err(err).Msg("Dropping undecodable inline image part")
					continue
				}
				out.Images = append(out.Images, Image{Data: data, MIMEType: part.InlineData.MIMEType})
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
	}
	out.Text = text.String()
	return out, nil
}

// ParseSegmentMasks parses a segmentation text part. The provider sometimes
// wraps the JSON in a markdown fence; strip it before decoding.
func ParseSegmentMasks(text string) ([]SegmentMask, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var masks []SegmentMask
	if err := json.Unmarshal([]byte(trimmed), &masks); err != nil {
		return nil, fmt.Errorf("failed to parse segmentation response: %w", err)
	}
	return masks, nil
}

// IsInvalidKey reports whether err means the API key was rejected by the
// provider
func IsInvalidKey(err error) bool {
	return errors.Is(err, ErrInvalidKey)
}

// isInvalidKeyBody classifies a 400-class response as an invalid-key
// rejection based on the provider's error body
func isInvalidKeyBody(status int, body string) bool {
	if status != http.StatusBadRequest && status != http.StatusForbidden && status != http.StatusUnauthorized {
		return false
	}
	return strings.Contains(body, "API_KEY_INVALID") ||
		strings.Contains(body, "API key not valid") ||
		strings.Contains(body, "API key expired")
}
