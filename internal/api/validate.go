package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"vrpga/internal/opt"
)

// SolveRequest is the body of POST /v1/solve.
type SolveRequest struct {
	// Instance is the full text of an instance file.
	Instance string `json:"instance"`
	Name     string `json:"name,omitempty"`
	// Config overrides individual solver defaults; omitted fields keep them.
	Config         json.RawMessage `json:"config,omitempty"`
	Seed           *int64          `json:"seed,omitempty"`
	CallbackURL    string          `json:"callbackUrl,omitempty"`
	CallbackSecret string          `json:"callbackSecret,omitempty"`
}

func validateSolveRequest(req *SolveRequest) error {
	if strings.TrimSpace(req.Instance) == "" {
		return fmt.Errorf("instance is required")
	}
	if len(req.Name) > 200 {
		return fmt.Errorf("name must be at most 200 characters")
	}
	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("callbackUrl must be an absolute http(s) URL")
		}
	}
	if req.CallbackSecret != "" && req.CallbackURL == "" {
		return fmt.Errorf("callbackSecret requires callbackUrl")
	}
	return nil
}

// solverConfig overlays the request's config on defaults and validates it.
// maxGenerations of 0 means no cap.
func solverConfig(defaults opt.Config, raw json.RawMessage, maxGenerations int) (opt.Config, error) {
	cfg := defaults
	if len(raw) > 0 && string(raw) != "null" {
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return opt.Config{}, fmt.Errorf("config: %w", err)
		}
	}
	if maxGenerations > 0 && cfg.Generations > maxGenerations {
		return opt.Config{}, fmt.Errorf("config: generations %d exceeds the server limit of %d", cfg.Generations, maxGenerations)
	}
	if err := cfg.Validate(); err != nil {
		return opt.Config{}, err
	}
	return cfg, nil
}
