package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"time"

	"battle-of-tunes/models"
	"battle-of-tunes/utils"
)

var (
	// ErrEvaluatorUnreachable covers network failures and timeouts.
	ErrEvaluatorUnreachable = errors.New("evaluation service unreachable")
	// ErrEvaluatorRejected covers non-success HTTP statuses.
	ErrEvaluatorRejected = errors.New("evaluation service rejected the request")
	// ErrMalformedEvaluatorResponse covers undecodable or incomplete bodies.
	ErrMalformedEvaluatorResponse = errors.New("malformed evaluation service response")
)

// TrackSubmission is one (wallet, track) pair headed for evaluation.
type TrackSubmission struct {
	WalletAddress string
	FileName      string
	Audio         []byte
}

// EvaluatorClient submits a battle's collected tracks to the external
// evaluation service. The multipart body carries one "files" part per track
// and one "wallet_addresses" field per wallet, in the same order: file i
// belongs to wallet i. The evaluation service relies on that positional
// pairing, so both sides must preserve it exactly.
type EvaluatorClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewEvaluatorClient() *EvaluatorClient {
	baseURL := os.Getenv("EVAL_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("EVAL_SERVICE_URL environment variable is required")
	}

	// The shared client already carries the generous timeout the evaluation
	// model needs; EVAL_TIMEOUT_SECONDS overrides it.
	client := utils.HTTPClient
	if raw := os.Getenv("EVAL_TIMEOUT_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			client = &http.Client{Timeout: time.Duration(secs) * time.Second}
		}
	}

	return &EvaluatorClient{
		BaseURL:    baseURL,
		HTTPClient: client,
	}
}

// Evaluate dispatches the submissions and parses the ranked result. The
// caller invokes it exactly once per battle.
func (c *EvaluatorClient) Evaluate(ctx context.Context, submissions []TrackSubmission) (*models.EvaluationResult, error) {
	if err := validateSubmissions(submissions); err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for i, submission := range submissions {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="files"; filename="track%d.mp3"`, i+1))
		header.Set("Content-Type", "audio/mpeg")

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create file part %d: %w", i+1, err)
		}
		if _, err := part.Write(submission.Audio); err != nil {
			return nil, fmt.Errorf("failed to write file part %d: %w", i+1, err)
		}
		log.Printf("[EVAL] Added track%d.mp3 (%d bytes) for wallet %s", i+1, len(submission.Audio), submission.WalletAddress)
	}
	for _, submission := range submissions {
		if err := writer.WriteField("wallet_addresses", submission.WalletAddress); err != nil {
			return nil, fmt.Errorf("failed to write wallet field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := c.BaseURL + "/evaluate-tracks/"
	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	log.Printf("[EVAL] ➡️  POST %s with %d track(s)", url, len(submissions))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluatorUnreachable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEvaluatorRejected, resp.StatusCode, string(errBody))
	}

	var result models.EvaluationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvaluatorResponse, err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvaluatorResponse, err)
	}

	log.Printf("[EVAL] ✅ Winner %s with score %.2f", result.WinnerWallet, result.Score)
	return &result, nil
}

// validateSubmissions rejects a malformed batch before any bytes go on the
// wire; an equal-length, fully populated list is what keeps the positional
// pairing sound.
func validateSubmissions(submissions []TrackSubmission) error {
	if len(submissions) == 0 {
		return fmt.Errorf("no submissions to evaluate")
	}
	for i, submission := range submissions {
		if submission.WalletAddress == "" {
			return fmt.Errorf("submission %d has no wallet address", i+1)
		}
		if len(submission.Audio) == 0 {
			return fmt.Errorf("submission %d has no audio data", i+1)
		}
	}
	return nil
}
