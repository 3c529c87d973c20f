package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Status reports whether the Ollama-backed embedding provider is reachable
// and whether the configured model is actually pulled.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusMissing     Status = "missing"
)

// HealthReport is the result of probing an Ollama instance for the
// embedding model cmd/synapsed is about to use.
type HealthReport struct {
	Status  Status
	Message string
	Version string
}

// CheckOllama probes baseURL for liveness and confirms model is pulled.
func CheckOllama(ctx context.Context, baseURL, model string) HealthReport {
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return HealthReport{Status: StatusUnavailable, Message: "failed to build request: " + err.Error()}
	}

	resp, err := client.Do(req)
	if err != nil {
		return HealthReport{Status: StatusMissing, Message: "ollama is not running at " + baseURL}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthReport{Status: StatusUnavailable, Message: fmt.Sprintf("ollama returned status %d", resp.StatusCode)}
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return HealthReport{Status: StatusAvailable, Message: "ollama is running but model list could not be read"}
	}

	baseName := strings.Split(model, ":")[0]
	for _, m := range tags.Models {
		if m.Name == model || strings.Split(m.Name, ":")[0] == baseName {
			return HealthReport{Status: StatusAvailable, Version: versionOf(ctx, baseURL, client)}
		}
	}
	return HealthReport{Status: StatusMissing, Message: fmt.Sprintf("embedding model %q is not pulled", model)}
}

func versionOf(ctx context.Context, baseURL string, client *http.Client) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/version", nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	var v struct {
		Version string `json:"version"`
	}
	if json.NewDecoder(resp.Body).Decode(&v) == nil {
		return v.Version
	}
	return ""
}
