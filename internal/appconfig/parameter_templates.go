// internal/appconfig/parameter_templates.go
package appconfig

import "strings"

// ProfileName identifies a sampling preset.
type ProfileName string

const (
	ProfileBalanced ProfileName = "balanced"
	ProfileCreative ProfileName = "creative"
	ProfileFocused  ProfileName = "focused"
)

// ParamsForProfile selects a sampling preset by name.
// Behavior:
//   - empty string => Balanced (default)
//   - unknown string => Balanced (default)
func ParamsForProfile(name string) Parameters {
	switch ProfileName(normalizeProfileName(name)) {
	case ProfileCreative:
		return DefaultCreativeParams()
	case ProfileFocused:
		return DefaultFocusedParams()
	case ProfileBalanced:
		fallthrough
	default:
		return DefaultBalancedParams()
	}
}

// DefaultBalancedParams suits continuing prose with a foundation model.
func DefaultBalancedParams() Parameters {
	return Parameters{
		Temperature: ptrFloat(0.8),
		TopP:        ptrFloat(1.0), // MinP does the pruning
		TopK:        ptrInt(0),
		MinP:        ptrFloat(0.08),
		TypicalP:    ptrFloat(1.0),

		RepeatLastN:      ptrInt(64),
		RepeatPenalty:    ptrFloat(1.1),
		PresencePenalty:  ptrFloat(0.0),
		FrequencyPenalty: ptrFloat(0.0),
	}
}

// DefaultCreativeParams trades determinism for stylistic variance.
func DefaultCreativeParams() Parameters {
	return Parameters{
		Temperature: ptrFloat(1.2),
		TopP:        ptrFloat(1.0),
		TopK:        ptrInt(0),
		MinP:        ptrFloat(0.15), // strict floor keeps high heat readable
		TypicalP:    ptrFloat(0.9),

		RepeatLastN:      ptrInt(256),
		RepeatPenalty:    ptrFloat(1.05),
		PresencePenalty:  ptrFloat(0.5),
		FrequencyPenalty: ptrFloat(0.2),
	}
}

// DefaultFocusedParams keeps continuations close to the established voice.
func DefaultFocusedParams() Parameters {
	return Parameters{
		Temperature: ptrFloat(0.4),
		TopP:        ptrFloat(0.9),
		TopK:        ptrInt(40),
		MinP:        ptrFloat(0.1),

		RepeatLastN:   ptrInt(128),
		RepeatPenalty: ptrFloat(1.1),
	}
}

func normalizeProfileName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "_")
	return n
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }
