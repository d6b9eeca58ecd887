package replicate

import (
	"context"
	"strings"
	"time"

	"aistudio/internal/domain"
)

// Pinned model versions.
const (
	UpscalerVersion          = "nightmareai/real-esrgan:279a18ae4f30c9d3636516918d76c8c8262a9bc7c415fe90a88087c78c9ebbef"
	EraserVersion            = "twn39/lama:2b91ca2340801c2a5be745612356fac36a17f698354a07f48a62d564d3b3a7a0"
	EnhancerVersion          = "tencentarc/gfpgan:0fbacf7afc6c144e5be9767cff80f25aff23e52b0708f17e20f9879b2f21516c"
	RelighterVersion         = "zsxkib/ic-light:d41bcb10d8c159868f4cfbd7c6a2ca01484f7d39e4613419d5952c61562f1ba7"
	BackgroundRemoverVersion = "men1scus/birefnet:f74986db0355b58403ed20963af156525e2891ea3c2d499bfbfb2a28cd87c5d7"
)

const (
	relightAppendedPrompt = "best quality, sharp, high detail, preserve exact face and body proportions, no distortion, professional photography, original resolution"
	relightNegativePrompt = "blurry, deformed face, changed proportions, distorted features, low quality, lowres, bad anatomy, worst quality"

	eraserWait    = 60 * time.Second
	eraserTimeout = 70 * time.Second
)

var (
	upscaleScales  = []int{2, 4, 8}
	enhanceScales  = []int{1, 2}
	enhanceVersion = map[string]string{
		"v1.4":          "v1.4",
		"1.4":           "v1.4",
		"v1.3":          "v1.3",
		"1.3":           "v1.3",
		"restoreformer": "RestoreFormer",
	}
)

// UpscaleParams are the tunables of the upscaler model.
type UpscaleParams struct {
	Scale       int
	FaceEnhance bool
}

// EnhanceParams are the tunables of the face/quality enhancer.
type EnhanceParams struct {
	Version string
	Scale   int
}

// NormalizeUpscaleScale snaps scale to the nearest allowed factor, defaulting
// to 4.
func NormalizeUpscaleScale(scale int) int {
	return nearest(scale, upscaleScales, 4)
}

// NormalizeEnhanceScale snaps scale to 1 or 2, defaulting to 2.
func NormalizeEnhanceScale(scale int) int {
	return nearest(scale, enhanceScales, 2)
}

// NormalizeEnhanceVersion maps user input onto a supported enhancer version,
// defaulting to v1.4.
func NormalizeEnhanceVersion(version string) string {
	if v, ok := enhanceVersion[strings.ToLower(strings.TrimSpace(version))]; ok {
		return v
	}
	return "v1.4"
}

// Upscale submits a super-resolution prediction.
func (c *Client) Upscale(ctx context.Context, image string, params UpscaleParams) (*Prediction, error) {
	return c.Create(ctx, CreateRequest{
		Version: UpscalerVersion,
		Input: map[string]any{
			"image":        image,
			"scale":        NormalizeUpscaleScale(params.Scale),
			"face_enhance": params.FaceEnhance,
		},
	})
}

// Erase submits an inpainting prediction and waits for it synchronously; the
// model usually finishes inside the wait window.
func (c *Client) Erase(ctx context.Context, image, mask string) (*Prediction, error) {
	if strings.TrimSpace(mask) == "" {
		return nil, domain.InvalidInput(domain.ToolMagicEraser, "Mask is required.")
	}
	return c.Create(ctx, CreateRequest{
		Version: EraserVersion,
		Input: map[string]any{
			"image": image,
			"mask":  mask,
		},
		Wait:    eraserWait,
		Timeout: eraserTimeout,
	})
}

// Enhance submits a face restoration prediction.
func (c *Client) Enhance(ctx context.Context, image string, params EnhanceParams) (*Prediction, error) {
	return c.Create(ctx, CreateRequest{
		Version: EnhancerVersion,
		Input: map[string]any{
			"img":     image,
			"version": NormalizeEnhanceVersion(params.Version),
			"scale":   NormalizeEnhanceScale(params.Scale),
		},
	})
}

// Relight submits a relighting prediction guided by prompt.
func (c *Client) Relight(ctx context.Context, image, prompt string) (*Prediction, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, domain.InvalidInput(domain.ToolLighting, "Lighting prompt is required.")
	}
	return c.Create(ctx, CreateRequest{
		Version: RelighterVersion,
		Input: map[string]any{
			"subject_image":   image,
			"prompt":          prompt,
			"appended_prompt": relightAppendedPrompt,
			"negative_prompt": relightNegativePrompt,
		},
	})
}

// RemoveBackground submits a background segmentation prediction.
func (c *Client) RemoveBackground(ctx context.Context, image string) (*Prediction, error) {
	return c.Create(ctx, CreateRequest{
		Version: BackgroundRemoverVersion,
		Input:   map[string]any{"image": image},
	})
}

func nearest(v int, allowed []int, fallback int) int {
	if v <= 0 {
		return fallback
	}
	best := allowed[0]
	for _, a := range allowed[1:] {
		if abs(v-a) < abs(v-best) {
			best = a
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
