package domain

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ToolKind enumerates the AI image operations a merchant can run.
type ToolKind string

const (
	ToolBackgroundRemoval ToolKind = "background_removal"
	ToolUpscale           ToolKind = "upscale"
	ToolMagicEraser       ToolKind = "magic_eraser"
	ToolEnhance           ToolKind = "enhance"
	ToolLighting          ToolKind = "lighting"
)

// AllTools lists every tool kind in display order.
func AllTools() []ToolKind {
	return []ToolKind{ToolBackgroundRemoval, ToolUpscale, ToolMagicEraser, ToolEnhance, ToolLighting}
}

var toolAliases = map[string]ToolKind{
	"background_removal": ToolBackgroundRemoval,
	"remove_bg":          ToolBackgroundRemoval,
	"background_remover": ToolBackgroundRemoval,
	"upscale":            ToolUpscale,
	"upscaler":           ToolUpscale,
	"magic_eraser":       ToolMagicEraser,
	"enhance":            ToolEnhance,
	"enhancer":           ToolEnhance,
	"lighting":           ToolLighting,
}

// ParseToolKind resolves a tool name, accepting the legacy aliases used by
// older clients.
func ParseToolKind(raw string) (ToolKind, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if kind, ok := toolAliases[key]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, raw)
}

// CounterPrefix returns the usage counter namespace for the tool.
func (k ToolKind) CounterPrefix() string {
	switch k {
	case ToolBackgroundRemoval:
		return "bg_remover"
	case ToolUpscale:
		return "upscaler"
	default:
		return string(k)
	}
}

// DisplayName renders the tool name for end-user messages, e.g. "Magic eraser".
func (k ToolKind) DisplayName() string {
	words := strings.Fields(strings.ReplaceAll(string(k), "_", " "))
	if len(words) == 0 {
		return "Service"
	}
	words[0] = cases.Title(language.English).String(words[0])
	return strings.Join(words, " ")
}

// JobState is the normalized lifecycle state of a generation job.
type JobState string

const (
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// GenerationJob is the durable record of one tool invocation.
type GenerationJob struct {
	ID                   int64
	TenantID             string
	Tool                 ToolKind
	ProviderJobID        string
	SourceImageRef       string
	ResultImageRef       string
	State                JobState
	ErrorDetail          string
	LinkedCatalogEntryID string
	ProcessingSeconds    float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Elapsed returns the processing time since creation, used when recording
// terminal transitions.
func (j *GenerationJob) Elapsed(now time.Time) float64 {
	if j == nil || j.CreatedAt.IsZero() {
		return 0
	}
	d := now.Sub(j.CreatedAt).Seconds()
	if d < 0 {
		return 0
	}
	return d
}
