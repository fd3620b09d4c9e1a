package models

// Preset is a named, ready-to-use parameter set offered to clients.
type Preset struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Params      Params `json:"parameters"`
	IsDefault   bool   `json:"is_default"`
}

// Presets returns the built-in presets. The returned slice is freshly allocated.
func Presets() []Preset {
	res := func(v int) *int { return &v }

	quick := DefaultParams()
	quick.AnimationDuration = 2.0
	quick.FPS = 24
	quick.Resolution = res(720)

	hq := DefaultParams()
	hq.DepthStrength = 2.0
	hq.AnimationDuration = 5.0
	hq.FPS = 60
	hq.Resolution = res(1920)

	gif := DefaultParams()
	gif.DepthStrength = 1.5
	gif.FPS = 15
	gif.OutputFormat = FormatGIF
	gif.Resolution = res(480)

	return []Preset{
		{Name: "quick-preview", Description: "Fast low-resolution preview", Params: quick, IsDefault: true},
		{Name: "high-quality", Description: "High quality output for social media sharing", Params: hq},
		{Name: "gif", Description: "Animated GIF", Params: gif},
	}
}
