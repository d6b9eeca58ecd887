package generation

import (
	"context"
	"errors"
	"strings"

	"aistudio/internal/domain"
	"aistudio/internal/imaging"
)

func requireMask(p Payload) error {
	if strings.TrimSpace(p.MaskBase64) == "" {
		return domain.InvalidInput(domain.ToolMagicEraser, "Missing mask. Please draw the area to erase and try again.")
	}
	return nil
}

func requirePrompt(p Payload) error {
	if strings.TrimSpace(p.Prompt) == "" {
		return domain.InvalidInput(domain.ToolLighting, "Lighting prompt is required.")
	}
	return nil
}

// prepare converts the payload into provider inputs. Self-hosted sources
// are inlined as data URIs since the provider may not reach this host.
func (s *Service) prepare(ctx context.Context, tool domain.ToolKind, p Payload) (submission, error) {
	sub := submission{Image: s.inline(ctx, p.ImageURL), Payload: p}
	if tool != domain.ToolMagicEraser {
		return sub, nil
	}
	mask, err := imaging.BinaryMask(p.MaskBase64, imaging.DefaultAlphaThreshold)
	if err != nil {
		if errors.Is(err, imaging.ErrEmptyMask) {
			return sub, domain.InvalidInput(tool, "Missing mask. Please draw the area to erase and try again.")
		}
		return sub, domain.InvalidInput(tool, "Invalid mask data. Please draw the area to erase and try again.")
	}
	sub.Mask = imaging.DataURI("image/png", mask)
	return sub, nil
}

func (s *Service) inline(ctx context.Context, ref string) string {
	if s.locator == nil || s.inliner == nil {
		return ref
	}
	key, ok := s.locator.Key(ctx, ref)
	if !ok {
		return ref
	}
	uri, err := s.inliner.DataURI(ctx, key)
	if err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("generation: source not inlined")
		return ref
	}
	return uri
}
