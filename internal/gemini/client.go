package gemini

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

	"image-magic/internal/prompt"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultAPIVersion = "v1beta"
)

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client talks to the generateContent REST endpoint directly.
type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     zerolog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

func (c *Client) Generate(ctx context.Context, req Request) (Image, error) {
	if len(req.Image) == 0 {
		return Image{}, &Error{Kind: KindUnknown, Message: "source image is empty"}
	}

	model := prompt.ModelFor(req.HighQuality)
	payload := generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &blob{Data: base64.StdEncoding.EncodeToString(req.Image), MimeType: req.MimeType}},
				{Text: prompt.Compose(req.Instruction, req.Mode, req.HighQuality, req.FocusProduct)},
			},
		}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
			ImageConfig: &imageConfig{
				AspectRatio: string(req.AspectRatio),
				ImageSize:   prompt.ImageSizeFor(req.HighQuality),
			},
		},
	}

	start := time.Now()
	img, err := c.generateContent(ctx, model, payload)
	if err != nil && payload.GenerationConfig.ImageConfig.ImageSize != "" && isUnknownFieldError(err, "imageSize") {
		c.logger.Warn().Str("model", model).Msg("imageSize rejected, retrying without it")
		payload.GenerationConfig.ImageConfig.ImageSize = ""
		img, err = c.generateContent(ctx, model, payload)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("model", model).Str("kind", string(KindOf(err))).Msg("gemini generation failed")
		return Image{}, err
	}

	c.logger.Debug().
		Str("model", model).
		Str("mode", string(req.Mode)).
		Str("aspect", string(req.AspectRatio)).
		Int("output_bytes", len(img.Data)).
		Dur("duration", time.Since(start)).
		Msg("gemini generation complete")
	return img, nil
}

func (c *Client) generateContent(ctx context.Context, model string, payload generateContentRequest) (Image, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Image{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Image{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Image{}, classifyTransport(err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Image{}, classifyTransport(err)
	}

	if httpResp.StatusCode >= 400 {
		return Image{}, statusError(httpResp.StatusCode, rawBody)
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return Image{}, &Error{Kind: KindUnknown, Message: "decode response: " + err.Error(), Err: err}
	}
	if decoded.Error != nil {
		return Image{}, statusError(decoded.Error.Code, rawBody)
	}

	return extractImage(decoded)
}

func statusError(status int, rawBody []byte) *Error {
	var envelope struct {
		Error *apiError `json:"error"`
	}
	message := strings.TrimSpace(string(rawBody))
	apiStatus := ""
	if err := json.Unmarshal(rawBody, &envelope); err == nil && envelope.Error != nil {
		message = envelope.Error.Message
		apiStatus = envelope.Error.Status
	}
	return &Error{
		Kind:    classifyStatus(status, apiStatus, message),
		Status:  status,
		Message: fmt.Sprintf("gemini API %d: %s", status, truncate(message, 300)),
	}
}

func extractImage(resp generateContentResponse) (Image, error) {
	var text strings.Builder
	finishReason := ""
	for _, cand := range resp.Candidates {
		if finishReason == "" {
			finishReason = cand.FinishReason
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return Image{}, &Error{Kind: KindUnknown, Message: "decode image data: " + err.Error(), Err: err}
				}
				mimeType := p.InlineData.MimeType
				if mimeType == "" {
					mimeType = defaultResultMime
				}
				return Image{Data: data, MimeType: mimeType}, nil
			}
			text.WriteString(p.Text)
		}
	}

	blockReason := ""
	if resp.PromptFeedback != nil {
		blockReason = resp.PromptFeedback.BlockReason
	}
	return Image{}, noImageError(blockReason, finishReason, text.String())
}

func isUnknownFieldError(err error, field string) bool {
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.Status != http.StatusBadRequest {
		return false
	}
	return strings.Contains(gerr.Message, "Unknown name") && strings.Contains(gerr.Message, field)
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
	Error          *apiError       `json:"error,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

var _ Generator = (*Client)(nil)
