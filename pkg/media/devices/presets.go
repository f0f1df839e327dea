package devices

import (
	"fmt"
	"strconv"
	"strings"
)

// QualityPreset is a named VP8 target bitrate.
type QualityPreset struct {
	Name        string
	Bitrate     int // kbps
	Description string
}

// QualityPresets from lowest to highest.
var QualityPresets = []QualityPreset{
	{Name: "Low", Bitrate: 500, Description: "500 kbps"},
	{Name: "Medium", Bitrate: 1500, Description: "1.5 Mbps"},
	{Name: "High", Bitrate: 3000, Description: "3 Mbps"},
	{Name: "Ultra", Bitrate: 6000, Description: "6 Mbps"},
	{Name: "Max", Bitrate: 10000, Description: "10 Mbps"},
}

const defaultQuality = 1 // Medium

// FPSPresets lists the capture rates offered by the CLI.
var FPSPresets = []int{5, 15, 24, 30, 60}

// QualityNames returns the preset names, for flag help.
func QualityNames() []string {
	names := make([]string, len(QualityPresets))
	for i, p := range QualityPresets {
		names[i] = strings.ToLower(p.Name)
	}
	return names
}

// QualityByName finds a preset by name (case-insensitive). The short forms
// lo, med and hi are accepted as well.
func QualityByName(name string) (QualityPreset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return QualityPresets[defaultQuality], nil
	case "lo":
		name = "low"
	case "med":
		name = "medium"
	case "hi":
		name = "high"
	}
	for _, p := range QualityPresets {
		if strings.ToLower(p.Name) == name {
			return p, nil
		}
	}
	return QualityPreset{}, fmt.Errorf("unknown quality %q (want one of %s)", name, strings.Join(QualityNames(), ", "))
}

// ParseFPS validates a frame rate flag value. Values outside the presets
// are accepted as long as they are positive.
func ParseFPS(value string) (float64, error) {
	fps, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || fps <= 0 {
		return 0, fmt.Errorf("invalid fps %q", value)
	}
	return float64(fps), nil
}
