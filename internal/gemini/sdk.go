package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"image-magic/internal/prompt"
)

// SDKClient implements Generator on top of the official genai SDK.
type SDKClient struct {
	client *genai.Client
	logger zerolog.Logger
}

func NewSDK(ctx context.Context, opts Options) (*SDKClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" && base != defaultBaseURL {
		cfg.HTTPOptions.BaseURL = base + "/"
	}
	if v := strings.TrimSpace(opts.APIVersion); v != "" {
		cfg.HTTPOptions.APIVersion = v
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &SDKClient{client: client, logger: opts.Logger}, nil
}

func (c *SDKClient) Generate(ctx context.Context, req Request) (Image, error) {
	if len(req.Image) == 0 {
		return Image{}, &Error{Kind: KindUnknown, Message: "source image is empty"}
	}

	model := prompt.ModelFor(req.HighQuality)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Image, req.MimeType),
			genai.NewPartFromText(prompt.Compose(req.Instruction, req.Mode, req.HighQuality, req.FocusProduct)),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
		ImageConfig: &genai.ImageConfig{
			AspectRatio: string(req.AspectRatio),
			ImageSize:   prompt.ImageSizeFor(req.HighQuality),
		},
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		gerr := classifySDKError(err)
		c.logger.Error().Err(err).Str("model", model).Str("kind", string(gerr.Kind)).Msg("genai generation failed")
		return Image{}, gerr
	}

	img, err := imageFromSDKResponse(resp)
	if err != nil {
		return Image{}, err
	}

	c.logger.Debug().
		Str("model", model).
		Int("output_bytes", len(img.Data)).
		Dur("duration", time.Since(start)).
		Msg("genai generation complete")
	return img, nil
}

func imageFromSDKResponse(resp *genai.GenerateContentResponse) (Image, error) {
	if resp == nil {
		return Image{}, noImageError("", "", "")
	}

	var text strings.Builder
	finishReason := ""
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if finishReason == "" {
			finishReason = string(cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p == nil {
				continue
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				mimeType := p.InlineData.MIMEType
				if mimeType == "" {
					mimeType = defaultResultMime
				}
				return Image{Data: p.InlineData.Data, MimeType: mimeType}, nil
			}
			text.WriteString(p.Text)
		}
	}

	blockReason := ""
	if resp.PromptFeedback != nil {
		blockReason = string(resp.PromptFeedback.BlockReason)
	}
	return Image{}, noImageError(blockReason, finishReason, text.String())
}

func classifySDKError(err error) *Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return sdkAPIError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return sdkAPIError(*apiErrPtr, err)
	}
	return classifyTransport(err)
}

func sdkAPIError(apiErr genai.APIError, err error) *Error {
	return &Error{
		Kind:    classifyStatus(apiErr.Code, apiErr.Status, apiErr.Message),
		Status:  apiErr.Code,
		Message: fmt.Sprintf("gemini API %d: %s", apiErr.Code, truncate(apiErr.Message, 300)),
		Err:     err,
	}
}

var _ Generator = (*SDKClient)(nil)
