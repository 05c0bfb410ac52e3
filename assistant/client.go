// Package assistant uploads recorded questions to the answer service
// and parses the spoken response that comes back.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// ErrUploadFailed wraps transport failures and non-2xx answers from the
// service.
var ErrUploadFailed = errors.New("upload failed")

// QueryParams tune retrieval on the service side and ride along with
// every upload.
type QueryParams struct {
	Language            string
	Limit               int
	SimilarityThreshold float64
	ResponseStyle       string
}

// Answer is the parsed service response: the recognized question plus
// the synthesized reply audio.
type Answer struct {
	Text        string
	AudioBase64 string
	AudioFormat string
	Metrics     *NetworkMetrics
}

type apiResponse struct {
	Success bool `json:"success"`
	Data    struct {
		TranscribedText string `json:"transcribed_text"`
		AudioBase64     string `json:"audio_base64"`
		AudioFormat     string `json:"audio_format"`
	} `json:"data"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

type Client struct {
	client *TracedClient
	apiURL string
	token  string
}

func NewClient(apiURL, token string) *Client {
	return &Client{
		client: NewTracedClient(apiURL),
		apiURL: apiURL,
		token:  token,
	}
}

// Warm pre-opens the HTTP connection; call it when recording starts so
// the handshake overlaps with the user speaking.
func (c *Client) Warm() { go c.client.Warm() }

// Ask uploads the encoded recording and returns the service's answer.
func (c *Client) Ask(ctx context.Context, audioData []byte, format string, p QueryParams) (*Answer, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, err
	}

	writer.WriteField("language", p.Language)
	writer.WriteField("limit", strconv.Itoa(p.Limit))
	writer.WriteField("similarity_threshold", strconv.FormatFloat(p.SimilarityThreshold, 'f', -1, 64))
	writer.WriteField("response_style", p.ResponseStyle)
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, &body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUploadFailed, errorDetail(resp))
	}

	var aResp apiResponse
	if err := json.Unmarshal(resp.Body, &aResp); err != nil {
		return nil, fmt.Errorf("%w: response parse error: %v", ErrUploadFailed, err)
	}
	if !aResp.Success {
		msg := aResp.Message
		if msg == "" {
			msg = aResp.Detail
		}
		if msg == "" {
			msg = "service reported failure"
		}
		return nil, fmt.Errorf("%w: %s", ErrUploadFailed, msg)
	}

	return &Answer{
		Text:        strings.TrimSpace(aResp.Data.TranscribedText),
		AudioBase64: aResp.Data.AudioBase64,
		AudioFormat: aResp.Data.AudioFormat,
		Metrics:     resp.Metrics,
	}, nil
}

// errorDetail digs a human-readable message out of an error response,
// falling back to the raw body when it is not the usual JSON shape.
func errorDetail(resp *TracedResponse) string {
	var aResp apiResponse
	if err := json.Unmarshal(resp.Body, &aResp); err == nil {
		if aResp.Detail != "" {
			return fmt.Sprintf("status %d: %s", resp.StatusCode, aResp.Detail)
		}
		if aResp.Message != "" {
			return fmt.Sprintf("status %d: %s", resp.StatusCode, aResp.Message)
		}
	}
	body := strings.TrimSpace(string(resp.Body))
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, body)
}
