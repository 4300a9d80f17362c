package api

import (
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"gopkg.in/yaml.v3"
)

// OpenAPIInfo returns the OpenAPI info configuration for careerforge-cloud.
func OpenAPIInfo() huma.OpenAPI {
	return huma.OpenAPI{
		OpenAPI: "3.1.0",
		Info: &huma.Info{
			Title:       "CareerForge Cloud API",
			Version:     "1.0.0",
			Description: "Session and usage API for the CareerForge career tools dashboard.\n\nHandles account sign-up and sign-in, token refresh, and plan-based usage quotas for resume tailoring, cover letters, job search, interview prep, and career roadmaps.",
			Contact: &huma.Contact{
				Name: "CareerForge Cloud",
				URL:  "https://github.com/careerforge/careerforge-cloud",
			},
		},
		Servers: []*huma.Server{
			{
				URL:         "https://api.careerforge.dev",
				Description: "Production server",
			},
			{
				URL:         "http://localhost:28080",
				Description: "Local development server",
			},
		},
		Tags: []*huma.Tag{
			{
				Name:        "Auth",
				Description: "Sign-up, sign-in, token refresh, and sign-out",
			},
			{
				Name:        "Usage",
				Description: "Per-feature usage counters and plan limits",
			},
			{
				Name:        "Health",
				Description: "Health check endpoints",
			},
		},
	}
}

// SecuritySchemes returns the security scheme definitions.
func SecuritySchemes() map[string]*huma.SecurityScheme {
	return map[string]*huma.SecurityScheme{
		"bearerAuth": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Access token from sign-in or refresh. Provide it in the Authorization header as 'Bearer YOUR_TOKEN'.",
		},
	}
}

// handleOpenAPIJSON serves the OpenAPI spec as JSON.
func handleOpenAPIJSON(api huma.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api == nil {
			http.Error(w, "OpenAPI spec not available", http.StatusServiceUnavailable)
			return
		}
		spec, err := api.OpenAPI().MarshalJSON()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to generate OpenAPI spec: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(spec)
	}
}

// handleOpenAPIYAML serves the OpenAPI spec as YAML.
func handleOpenAPIYAML(api huma.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api == nil {
			http.Error(w, "OpenAPI spec not available", http.StatusServiceUnavailable)
			return
		}
		spec := api.OpenAPI()
		yamlBytes, err := yaml.Marshal(spec)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to generate OpenAPI spec: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(yamlBytes)
	}
}
