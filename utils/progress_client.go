package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ProgressAPIClient implements ProgressSource against the membership
// platform's HTTP API. Retries 408/429/5xx with exponential backoff;
// every other failure is permanent at the transport level.
type ProgressAPIClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewProgressAPIClient(baseURL, apiKey string) *ProgressAPIClient {
	return &ProgressAPIClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *ProgressAPIClient) GetInteractions(courseID, memberID string) ([]LessonInteraction, error) {
	url := fmt.Sprintf("%s/courses/%s/members/%s/interactions", p.BaseURL, courseID, memberID)

	var interactions []LessonInteraction
	if err := p.getJSON(url, &interactions); err != nil {
		return nil, fmt.Errorf("fetching interactions for course %s member %s: %w", courseID, memberID, err)
	}
	return interactions, nil
}

func (p *ProgressAPIClient) GetStructure(courseID string) (*CourseStructure, error) {
	url := fmt.Sprintf("%s/courses/%s/structure", p.BaseURL, courseID)

	var structure CourseStructure
	if err := p.getJSON(url, &structure); err != nil {
		return nil, fmt.Errorf("fetching structure for course %s: %w", courseID, err)
	}
	return &structure, nil
}

func (p *ProgressAPIClient) getJSON(url string, out interface{}) error {
	operation := func() error {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if p.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.APIKey)
		}

		resp, err := p.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if retryableStatus(resp.StatusCode) {
			return fmt.Errorf("progress API returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("progress API returned %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding progress API response: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(operation, policy)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
