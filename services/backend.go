package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"multisvg/models"
	"multisvg/workflow"
)

var _ workflow.Converter = (*BackendClient)(nil)

// ErrMalformedResponse means the backend answered with something other than
// the conversion JSON contract.
var ErrMalformedResponse = errors.New("malformed conversion response")

const maxResponseBytes = 1 << 20

type BackendClient struct {
	baseURL string
	client  *http.Client
}

func NewBackendClient(baseURL string) *BackendClient {
	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 0, // No local timeout; the caller's context governs
		},
	}
}

type convertResponse struct {
	Success        *bool    `json:"success"`
	DownloadURL    string   `json:"download_url"`
	ProcessingTime *float64 `json:"processing_time"`
	Message        string   `json:"message"`
}

// Convert posts one SVG to the backend's /api/convert endpoint.
func (b *BackendClient) Convert(ctx context.Context, req models.ConversionRequest) (*models.ConversionResult, error) {
	// Create multipart form
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(models.FieldFile, filepath.Base(req.Filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(req.File); err != nil {
		return nil, fmt.Errorf("failed to copy file: %w", err)
	}

	values := req.Params.FormValues()
	for _, field := range []string{models.FieldMode, models.FieldLaserPower, models.FieldSpeed, models.FieldPassDepth} {
		if err := writer.WriteField(field, values[field]); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", field, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/convert", b.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("convert request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read convert response: %w", err)
	}

	// Failure JSON arrives with 4xx/5xx statuses, so the body decides.
	return decodeConvertResponse(resp.StatusCode, raw)
}

func decodeConvertResponse(status int, raw []byte) (*models.ConversionResult, error) {
	var cr convertResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("%w: status %d: %v", ErrMalformedResponse, status, err)
	}

	if cr.Success == nil {
		return nil, fmt.Errorf("%w: status %d: missing success flag", ErrMalformedResponse, status)
	}

	if !*cr.Success {
		return &models.ConversionResult{Success: false, Message: cr.Message}, nil
	}

	if cr.DownloadURL == "" {
		return nil, fmt.Errorf("%w: status %d: missing download_url", ErrMalformedResponse, status)
	}

	return &models.ConversionResult{
		Success:        true,
		DownloadURL:    cr.DownloadURL,
		ProcessingTime: cr.ProcessingTime,
	}, nil
}

// ResolveURL turns a download locator into an absolute URL. Relative
// locators are taken relative to the backend.
func (b *BackendClient) ResolveURL(locator string) (string, error) {
	base, err := url.Parse(b.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("invalid backend url: %w", err)
	}

	ref, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("invalid download locator %q: %w", locator, err)
	}

	return base.ResolveReference(ref).String(), nil
}

// FetchArtifact streams the artifact behind a download locator into w and
// returns its content type.
func (b *BackendClient) FetchArtifact(ctx context.Context, locator string, w io.Writer) (string, error) {
	target, err := b.ResolveURL(locator)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("artifact request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType, nil
}

// DownloadToTemp saves the artifact behind locator under dir, named after
// key plus the locator's extension.
func (b *BackendClient) DownloadToTemp(ctx context.Context, locator string, dir string, key string) (string, string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	ext := path.Ext(locatorPath(locator))
	localPath := filepath.Join(dir, key+ext)

	file, err := os.Create(localPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()

	contentType, err := b.FetchArtifact(ctx, locator, file)
	if err != nil {
		os.Remove(localPath)
		return "", "", err
	}

	return localPath, contentType, nil
}

func locatorPath(locator string) string {
	if u, err := url.Parse(locator); err == nil {
		return u.Path
	}
	return locator
}
