// Package settings provides server-side settings management.
package settings

import "fmt"

// DefaultModel is the inference model used until the administrator changes it.
const DefaultModel = "gemini-3-flash-preview"

type Settings struct {
	// TermsAccepted gates every chat operation. It only ever flips to true.
	TermsAccepted   bool    `json:"terms_accepted"`
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
	SearchGrounding bool    `json:"search_grounding"`
}

func Default() Settings {
	return Settings{
		TermsAccepted:   false,
		Model:           DefaultModel,
		Temperature:     0.6,
		TopP:            0.9,
		SearchGrounding: true,
	}
}

func (s Settings) Validate() error {
	if s.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", s.Temperature)
	}
	if s.TopP <= 0 || s.TopP > 1 {
		return fmt.Errorf("top_p %v out of range (0, 1]", s.TopP)
	}
	return nil
}
