package quality

import "strings"

// Level identifies a generation quality preset.
type Level string

const (
	Fast   Level = "fast"
	Normal Level = "normal"
	High   Level = "high"
)

// Preset carries the diffusion parameters sent to the inference backend.
type Preset struct {
	NumInferenceSteps           int
	GuidanceScale               float64
	Strength                    float64
	ControlNetConditioningScale float64
}

var presets = map[Level]Preset{
	Fast:   {NumInferenceSteps: 6, GuidanceScale: 1, Strength: 0.65, ControlNetConditioningScale: 1.0},
	Normal: {NumInferenceSteps: 6, GuidanceScale: 1, Strength: 0.65, ControlNetConditioningScale: 1.0},
	High:   {NumInferenceSteps: 6, GuidanceScale: 1.5, Strength: 0.75, ControlNetConditioningScale: 1.0},
}

// fallbacks maps each level to the level used while degrade mode is active.
// Fast is the floor and maps to itself.
var fallbacks = map[Level]Level{
	High:   Normal,
	Normal: Fast,
	Fast:   Fast,
}

// Parse converts a request string into a known Level.
func Parse(value string) (Level, bool) {
	level := Level(strings.ToLower(strings.TrimSpace(value)))
	if level == "" {
		return Normal, true
	}
	_, ok := presets[level]
	return level, ok
}

// PresetFor returns the diffusion parameters for a level.
func PresetFor(level Level) (Preset, bool) {
	preset, ok := presets[level]
	return preset, ok
}

// Fallback returns the level applied when degrade mode is active.
func Fallback(level Level) Level {
	if downgraded, ok := fallbacks[level]; ok {
		return downgraded
	}
	return level
}
