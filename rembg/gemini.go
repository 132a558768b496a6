package rembg

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chaos-io/bgstudio/codec"
	"github.com/chaos-io/bgstudio/util"
	nhttp "github.com/chaos-io/bgstudio/util/http"
	"go.uber.org/zap"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.5-flash-image-preview"

	instruction = "Remove the background of this image and make it transparent. Return only the image, without any additional text."

	finishReasonStop = "STOP"
	blockNone        = "BLOCK_NONE"
)

var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

type GeminiConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type GeminiRemover struct {
	cfg GeminiConfig
	cli nhttp.IClient
}

func NewGeminiRemover(cfg GeminiConfig, cli nhttp.IClient) *GeminiRemover {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	return &GeminiRemover{cfg: cfg, cli: cli}
}

func (g *GeminiRemover) endpoint() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.Model)
}

func newRemoveRequest(payload *codec.Payload) *generateContentRequest {
	settings := make([]safetySetting, 0, len(harmCategories))
	for _, c := range harmCategories {
		settings = append(settings, safetySetting{Category: c, Threshold: blockNone})
	}

	return &generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MimeType: payload.MediaType, Data: payload.Data}},
				{Text: instruction},
			},
		}},
		GenerationConfig: &generationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
		SafetySettings:   settings,
	}
}

func (g *GeminiRemover) Remove(ctx context.Context, payload *codec.Payload) (*Image, error) {
	defer util.Trace("gemini remove background", zap.String("model", g.cfg.Model))()

	if payload == nil {
		return nil, wrapRemoval(fmt.Errorf("nil payload"))
	}

	resp := &generateContentResponse{}
	reqParam := &nhttp.RequestParam{
		RequestURI: g.endpoint(),
		Method:     "POST",
		Header: map[string]string{
			"Content-Type":   "application/json",
			"x-goog-api-key": g.cfg.APIKey,
		},
		Body:     newRemoveRequest(payload),
		Response: resp,
		Timeout:  g.cfg.Timeout,
	}

	if err := g.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		util.Logger.Error("gemini request failed", zap.Int("status", reqParam.StatusCode), zap.Error(err))
		return nil, wrapRemoval(fmt.Errorf("do request: %w", err))
	}

	img, err := interpret(resp)
	if err != nil {
		util.Logger.Warn("gemini returned no image", zap.Error(err))
		return nil, wrapRemoval(err)
	}

	util.Logger.Debug("gemini returned image",
		zap.String("mime_type", img.MediaType),
		zap.Int("size", len(img.Data)))
	return img, nil
}

// interpret 按优先级解析响应：
// 无候选 -> 拦截/空；结束原因异常；无 parts；图片；文本；都没有
func interpret(resp *generateContentResponse) (*Image, error) {
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, &ResponseError{Kind: ErrContentBlocked, Detail: resp.PromptFeedback.BlockReason}
		}
		return nil, &ResponseError{Kind: ErrEmptyResponse}
	}

	cand := resp.Candidates[0]
	if cand.FinishReason != "" && cand.FinishReason != finishReasonStop {
		return nil, &ResponseError{Kind: ErrAbnormalFinish, Detail: cand.FinishReason}
	}

	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return nil, &ResponseError{Kind: ErrEmptyResponse}
	}

	for _, p := range cand.Content.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("decode inline image: %w", err)
		}
		return &Image{MediaType: p.InlineData.MimeType, Data: data}, nil
	}

	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			return nil, &ResponseError{Kind: ErrTextualRefusal, Detail: p.Text}
		}
	}

	return nil, &ResponseError{Kind: ErrNoImageReturned}
}
