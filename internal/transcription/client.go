package transcription

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
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/logger"
)

type PublishSuccessResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		MediaId          string `json:"MediaId"`
		Status           string `json:"Status"`
		LanguageId       int    `json:"LanguageId"`
		TranscriptionURL string `json:"TranscriptionURL"`
		WordsCount       int    `json:"WordsCount"`
	} `json:"Data"`
	Reason   string `json:"Reason,omitempty"`
	UniqueId string `json:"UniqueId,omitempty"`
}

type StatusResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		AudioURL             string `json:"AudioURL"`
		LanguageId           int    `json:"LanguageId"`
		Status               string `json:"Status"` // Success, Queued, Processing, Failed
		TranscriptionTextURL string `json:"TranscriptionTextURL"`
		WordsCount           int    `json:"WordsCount"`
	} `json:"Data"`
	Reason   string `json:"Reason,omitempty"`
	UniqueId string `json:"UniqueId,omitempty"`
}

// Client talks to the publish/poll/download transcription API:
// POST {host}/transcribe, GET {host}/getstatus?mediaId=, then GET the text URL.
type Client struct {
	host         string
	http         *http.Client
	PollInterval time.Duration
	MaxPolls     int
	RetryFor     time.Duration
	log          *logger.Logger
}

func NewClient(host string, log *logger.Logger) *Client {
	return &Client{
		host:         strings.TrimRight(host, "/"),
		http:         &http.Client{Timeout: 12 * time.Second},
		PollInterval: 1500 * time.Millisecond,
		MaxPolls:     40,
		RetryFor:     12 * time.Second,
		log:          log.Component("transcription"),
	}
}

func (c *Client) Transcribe(ctx context.Context, audioURL string) (*Result, error) {
	if c.host == "" {
		return nil, apperr.Upstream(errors.New("TRANSCRIBE_URL not set"), "stt not configured")
	}
	mediaID, lang, textURL, err := c.publish(ctx, audioURL)
	if err != nil {
		return nil, apperr.Upstream(err, "stt publish")
	}
	if textURL == "" {
		textURL, lang, err = c.poll(ctx, mediaID)
		if err != nil {
			return nil, apperr.Upstream(err, "stt poll")
		}
	}
	c.log.WithField("media_id", mediaID).Info("download final transcript")
	body, err := c.download(ctx, textURL)
	if err != nil {
		return nil, apperr.Upstream(err, "stt download")
	}
	res := ParseTranscript(body)
	if res.Language == "" {
		res.Language = languageCode(lang)
	}
	res.Provider = "transcribe-api"
	return &res, nil
}

func (c *Client) publish(ctx context.Context, audioURL string) (mediaID string, lang int, textURL string, err error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	_ = w.WriteField("callRecordingLink", audioURL)
	_ = w.WriteField("callType", "PNS")
	_ = w.Close()
	payload := b.Bytes()

	var resp PublishSuccessResponse
	err = c.doJSON(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/transcribe", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	}, &resp)
	if err != nil {
		return "", 0, "", err
	}
	if resp.Code != 200 {
		return "", 0, "", fmt.Errorf("transcribe publish error: code=%d reason=%s", resp.Code, resp.Reason)
	}
	if resp.Data.TranscriptionURL != "" && strings.EqualFold(resp.Data.Status, "success") {
		return resp.Data.MediaId, resp.Data.LanguageId, resp.Data.TranscriptionURL, nil
	}
	return resp.Data.MediaId, resp.Data.LanguageId, "", nil
}

func (c *Client) poll(ctx context.Context, mediaID string) (string, int, error) {
	u, err := url.Parse(c.host + "/getstatus")
	if err != nil {
		return "", 0, err
	}
	q := u.Query()
	q.Set("mediaId", mediaID)
	u.RawQuery = q.Encode()

	for i := 0; i < c.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-time.After(c.PollInterval):
		}
		var s StatusResponse
		err := c.doJSON(ctx, func() (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		}, &s)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, ctx.Err()
			}
			c.log.WithError(err).Warn("status check failed")
			continue
		}
		switch s.Data.Status {
		case "Success":
			return s.Data.TranscriptionTextURL, s.Data.LanguageId, nil
		case "Queued", "Processing":
			continue
		case "Failed":
			return "", 0, fmt.Errorf("transcription failed: %s", s.Reason)
		}
	}
	return "", 0, fmt.Errorf("transcription timeout")
}

func (c *Client) download(ctx context.Context, textURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, textURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("download failed: %s", string(b))
	}
	if resp.ContentLength >= 0 && int64(len(b)) < resp.ContentLength {
		return "", fmt.Errorf("transcript truncated: got %d of %d bytes", len(b), resp.ContentLength)
	}
	return string(b), nil
}

// doJSON retries 5xx, transport errors and undecodable bodies; 4xx is final.
func (c *Client) doJSON(ctx context.Context, newReq func() (*http.Request, error), target any) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.RetryFor
	var lastErr error
	op := func() error {
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			return lastErr
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %s", string(body))
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
			return backoff.Permanent(lastErr)
		}
		if len(body) == 0 {
			lastErr = fmt.Errorf("empty body")
			return lastErr
		}
		if err := json.Unmarshal(body, target); err != nil {
			lastErr = fmt.Errorf("json decode error: %v body=%s", err, string(body))
			return lastErr
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr == nil {
			return err
		}
		return lastErr
	}
	return nil
}

var languages = map[int]string{1: "en", 2: "hi", 3: "es", 4: "fr"}

func languageCode(id int) string {
	return languages[id]
}
