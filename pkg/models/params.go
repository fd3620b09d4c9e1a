package models

import (
	"fmt"
	"strings"
)

const (
	FormatMP4  = "mp4"
	FormatWebM = "webm"
	FormatGIF  = "gif"
)

const (
	CameraOrbit  = "orbit"
	CameraZoom   = "zoom"
	CameraDolly  = "dolly"
	CameraStatic = "static"
)

// Parameter bounds accepted by the renderer.
const (
	MinDepthStrength = 0.1
	MaxDepthStrength = 5.0
	MinDuration      = 1.0
	MaxDuration      = 10.0
	MinFPS           = 15
	MaxFPS           = 60
	MinResolution    = 480
	MaxResolution    = 2048
)

// Params is the processing configuration for a job. It is immutable once the job is created.
type Params struct {
	DepthStrength     float64 `json:"depth_strength"`
	AnimationDuration float64 `json:"animation_duration"`
	FPS               int     `json:"fps"`
	OutputFormat      string  `json:"output_format"`
	Resolution        *int    `json:"resolution,omitempty"`
	Loop              bool    `json:"loop"`
	DepthModel        string  `json:"depth_model"`
	CameraMovement    string  `json:"camera_movement"`
}

// DefaultParams returns the parameter set used for any field a client leaves out.
func DefaultParams() Params {
	return Params{
		DepthStrength:     1.0,
		AnimationDuration: 3.0,
		FPS:               30,
		OutputFormat:      FormatMP4,
		Loop:              true,
		DepthModel:        "default",
		CameraMovement:    CameraOrbit,
	}
}

// FieldError names one parameter that failed validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate checks every field against its allowed range and returns one FieldError per
// violation. A nil slice means the parameters are acceptable.
func (p Params) Validate() []FieldError {
	var errs []FieldError

	if p.DepthStrength < MinDepthStrength || p.DepthStrength > MaxDepthStrength {
		errs = append(errs, FieldError{"depth_strength",
			fmt.Sprintf("must be between %.1f and %.1f", MinDepthStrength, MaxDepthStrength)})
	}
	if p.AnimationDuration < MinDuration || p.AnimationDuration > MaxDuration {
		errs = append(errs, FieldError{"animation_duration",
			fmt.Sprintf("must be between %.1f and %.1f", MinDuration, MaxDuration)})
	}
	if p.FPS < MinFPS || p.FPS > MaxFPS {
		errs = append(errs, FieldError{"fps", fmt.Sprintf("must be between %d and %d", MinFPS, MaxFPS)})
	}
	switch p.OutputFormat {
	case FormatMP4, FormatWebM, FormatGIF:
	default:
		errs = append(errs, FieldError{"output_format", "must be one of mp4, webm, gif"})
	}
	if p.Resolution != nil && (*p.Resolution < MinResolution || *p.Resolution > MaxResolution) {
		errs = append(errs, FieldError{"resolution",
			fmt.Sprintf("must be between %d and %d", MinResolution, MaxResolution)})
	}
	if strings.TrimSpace(p.DepthModel) == "" {
		errs = append(errs, FieldError{"depth_model", "must not be empty"})
	}
	switch p.CameraMovement {
	case CameraOrbit, CameraZoom, CameraDolly, CameraStatic:
	default:
		errs = append(errs, FieldError{"camera_movement", "must be one of orbit, zoom, dolly, static"})
	}

	return errs
}

// ContentType returns the MIME type of an artifact in the given output format.
func ContentType(format string) string {
	switch format {
	case FormatMP4:
		return "video/mp4"
	case FormatWebM:
		return "video/webm"
	case FormatGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
