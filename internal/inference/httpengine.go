package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

// HTTPEngine implements Engine by delegating to a model-serving sidecar
// over HTTP. One HTTPEngine instance is one
// loaded model version, constructed by the Registry's Loader.
type HTTPEngine struct {
	BaseURL string
	Version string
	Client  *http.Client
}

// OAuth2Config authenticates the sidecar HTTP client with the OAuth2
// client-credentials grant. A blank ClientID leaves the sidecar call
// unauthenticated, for deployments where the sidecar sits on a
// network the operator already trusts.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

func (c OAuth2Config) client(ctx context.Context, timeout time.Duration) *http.Client {
	if c.ClientID == "" {
		return &http.Client{Timeout: timeout}
	}
	cc := clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
	client := cc.Client(ctx)
	client.Timeout = timeout
	return client
}

// NewHTTPEngineLoader returns a Registry Loader that points every
// requested version at the same sidecar base URL, appending the
// version so the sidecar can route to the matching weights — and fails
// fast if the
// sidecar's health endpoint for that version does not respond. auth
// is applied to every request; a zero-value OAuth2Config means the
// sidecar is called unauthenticated.
func NewHTTPEngineLoader(baseURL string, timeout time.Duration, auth OAuth2Config) Loader {
	return func(version string) (Engine, error) {
		client := auth.client(context.Background(), timeout)
		eng := &HTTPEngine{BaseURL: baseURL, Version: version, Client: client}
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/models/%s/healthz", baseURL, version), nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("inference: model %q unreachable at startup: %w", version, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("inference: model %q not ready: status %d", version, resp.StatusCode)
		}
		return eng, nil
	}
}

type detectRequest struct {
	ImagePath string `json:"image_path"`
}

type detectResponse struct {
	Detections []RawDetection `json:"detections"`
}

// Detect posts the image path to the sidecar and decodes the raw
// per-box detections. A 408/504 response, or a request abandoned because
// ctx ended, surfaces as InferenceTimeout; 507 as InferenceOOM; 422 as
// InputCorrupt; any other non-200 response or transport error as
// TransientIO.
func (e *HTTPEngine) Detect(ctx context.Context, imagePath string) ([]RawDetection, error) {
	var out detectResponse
	if err := e.post(ctx, "/detect", detectRequest{ImagePath: imagePath}, &out); err != nil {
		return nil, err
	}
	return out.Detections, nil
}

type embedRequest struct {
	ImagePath string      `json:"image_path"`
	Bbox      domain.Rect `json:"bbox"`
}

type embedResponse struct {
	Primary   []float64   `json:"primary"`
	Auxiliary [][]float64 `json:"auxiliary"`
}

// Embed posts the crop coordinates to the sidecar and decodes the
// primary and auxiliary embeddings.
func (e *HTTPEngine) Embed(ctx context.Context, imagePath string, bbox domain.Rect) (Embedding, error) {
	var out embedResponse
	if err := e.post(ctx, "/embed", embedRequest{ImagePath: imagePath, Bbox: bbox}, &out); err != nil {
		return Embedding{}, err
	}
	return Embedding{Primary: out.Primary, Auxiliary: out.Auxiliary}, nil
}

func (e *HTTPEngine) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.NewInputCorrupt(fmt.Sprintf("inference request encode failed: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/v/"+e.Version+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewTransientIO("inference.http.request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewInferenceTimeout(path)
		}
		return apperrors.NewTransientIO("inference.http.do", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return apperrors.NewInferenceTimeout(path)
	case resp.StatusCode == http.StatusInsufficientStorage || resp.StatusCode == 507:
		return apperrors.NewInferenceOOM(e.BaseURL)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return apperrors.NewInputCorrupt(fmt.Sprintf("inference rejected input: %s", path))
	case resp.StatusCode != http.StatusOK:
		return apperrors.NewTransientIO("inference.http.status", fmt.Errorf("status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewTransientIO("inference.http.decode", err)
	}
	return nil
}
