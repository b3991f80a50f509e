// internal/workflow/fibo.go
package workflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/FormatLab/FormatLabStudio/internal/utils"
)

// ErrNoImage means the backend answered but carried no image payload
var ErrNoImage = errors.New("fibo response contained no image data")

// FIBOClient calls the Bria FIBO render API. FIBO takes a full scene graph
// plus generation parameters and returns rendered variants.
type FIBOClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *utils.Logger
}

// NewFIBOClient creates a render client. Generation is slow, the network
// timeout is generous.
func NewFIBOClient(baseURL, apiKey string) *FIBOClient {
	return &FIBOClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: utils.GetLogger(),
	}
}

// Configured reports whether the client has an API key to call with
func (c *FIBOClient) Configured() bool {
	return c.apiKey != ""
}

// GenerateImage renders one variant of the scene and returns the PNG bytes
func (c *FIBOClient) GenerateImage(ctx context.Context, scene map[string]any, seed, variantIndex int) ([]byte, error) {
	payload := map[string]any{
		"scene_graph":   scene,
		"seed":          seed,
		"num_variants":  1,
		"output_format": "png",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fibo api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fibo api error (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Output struct {
			Images []struct {
				Data string `json:"data"`
			} `json:"images"`
		} `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("fibo response parse failed: %w", err)
	}

	if len(result.Output.Images) == 0 || result.Output.Images[0].Data == "" {
		return nil, ErrNoImage
	}

	imageBytes, err := base64.StdEncoding.DecodeString(result.Output.Images[0].Data)
	if err != nil {
		return nil, fmt.Errorf("fibo image decode failed: %w", err)
	}

	c.logger.Debug("Generated image via FIBO", map[string]any{
		"seed":    seed,
		"variant": variantIndex,
		"bytes":   len(imageBytes),
	})

	return imageBytes, nil
}
