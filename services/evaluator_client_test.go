package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubmissions() []TrackSubmission {
	return []TrackSubmission{
		{WalletAddress: testWallet(1), FileName: "first.mp3", Audio: []byte("audio-one")},
		{WalletAddress: testWallet(2), FileName: "second.mp3", Audio: []byte("audio-two")},
		{WalletAddress: testWallet(3), FileName: "third.mp3", Audio: []byte("audio-three")},
	}
}

func TestEvaluatePreservesPositionalPairing(t *testing.T) {
	submissions := testSubmissions()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/evaluate-tracks/", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(32<<20))

		files := r.MultipartForm.File["files"]
		wallets := r.MultipartForm.Value["wallet_addresses"]
		require.Len(t, files, len(submissions))
		require.Len(t, wallets, len(submissions))

		for i, header := range files {
			// File i belongs to wallet i; the evaluator depends on this.
			assert.Equal(t, "track"+string(rune('1'+i))+".mp3", header.Filename)
			assert.Equal(t, "audio/mpeg", header.Header.Get("Content-Type"))
			assert.Equal(t, submissions[i].WalletAddress, wallets[i])

			file, err := header.Open()
			require.NoError(t, err)
			content, err := io.ReadAll(file)
			require.NoError(t, err)
			file.Close()
			assert.Equal(t, submissions[i].Audio, content)
		}

		_ = json.NewEncoder(w).Encode(evaluationFixture(testWallet(2), []string{
			testWallet(2), testWallet(1), testWallet(3),
		}))
	}))
	defer server.Close()

	client := &EvaluatorClient{BaseURL: server.URL, HTTPClient: server.Client()}
	result, err := client.Evaluate(context.Background(), submissions)
	require.NoError(t, err)
	assert.Equal(t, testWallet(2), result.WinnerWallet)
	assert.Len(t, result.AllRankings, 3)
}

func TestEvaluateRejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported codec", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := &EvaluatorClient{BaseURL: server.URL, HTTPClient: server.Client()}
	_, err := client.Evaluate(context.Background(), testSubmissions())
	assert.ErrorIs(t, err, ErrEvaluatorRejected)
	assert.Contains(t, err.Error(), "422")
}

func TestEvaluateUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := &EvaluatorClient{BaseURL: server.URL, HTTPClient: server.Client()}
	server.Close()

	_, err := client.Evaluate(context.Background(), testSubmissions())
	assert.ErrorIs(t, err, ErrEvaluatorUnreachable)
}

func TestEvaluateMalformedResponses(t *testing.T) {
	cases := map[string]string{
		"not json":       "<html>gateway timeout</html>",
		"missing winner": `{"winning_track":"track1.mp3","all_rankings":[{"wallet_address":"0xabc"}]}`,
		"empty rankings": `{"winner_wallet":"0xabc","all_rankings":[]}`,
		"nameless entry": `{"winner_wallet":"0xabc","all_rankings":[{"quality_score":1}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			client := &EvaluatorClient{BaseURL: server.URL, HTTPClient: server.Client()}
			_, err := client.Evaluate(context.Background(), testSubmissions())
			assert.ErrorIs(t, err, ErrMalformedEvaluatorResponse)
		})
	}
}

func TestEvaluateValidatesBeforeSending(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	client := &EvaluatorClient{BaseURL: server.URL, HTTPClient: server.Client()}

	_, err := client.Evaluate(context.Background(), nil)
	assert.Error(t, err)

	_, err = client.Evaluate(context.Background(), []TrackSubmission{
		{WalletAddress: "", Audio: []byte("x")},
	})
	assert.Error(t, err)

	_, err = client.Evaluate(context.Background(), []TrackSubmission{
		{WalletAddress: testWallet(1), Audio: nil},
	})
	assert.Error(t, err)

	assert.Zero(t, requests.Load(), "a malformed batch never reaches the wire")
}
