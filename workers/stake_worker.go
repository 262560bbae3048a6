package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"battle-of-tunes/services"
)

// StakeClient reads stake state from the staking gateway. Registration uses
// it once per wallet; PollStakes re-checks idle participants so a withdrawn
// stake drops a wallet out of matchmaking.
type StakeClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewStakeClient() *StakeClient {
	baseURL := os.Getenv("STAKE_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("STAKE_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("STAKE_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("STAKE_SERVICE_TOKEN environment variable is required")
	}

	return &StakeClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// VerifyStake is a blocking read against the ledger gateway: true iff the
// wallet currently holds the required stake.
func (c *StakeClient) VerifyStake(ctx context.Context, walletAddress string) (bool, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return false, fmt.Errorf("invalid stake service URL %q: %w", c.BaseURL, err)
	}
	endpoint := base.JoinPath("/api/v1/stakes", walletAddress)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create stake request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("stake service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("stake service returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Staked bool `json:"staked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("failed to decode stake service response: %w", err)
	}
	return decoded.Staked, nil
}

// PollStakes periodically re-checks the stakes of idle participants and
// unverifies wallets whose stake is gone. Rows that are mid-battle are left
// alone; their roster holds until the battle resets.
func PollStakes(ctx context.Context, client *StakeClient, store *services.ParticipantStore, pollInterval time.Duration) {
	log.Println("Starting stake re-verification polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Stake polling stopped.")
			return
		case <-ticker.C:
			idle, err := store.ListIdleVerified(0)
			if err != nil {
				log.Printf("❌ Stake poll: failed to list participants: %v", err)
				continue
			}

			seen := make(map[string]bool, len(idle))
			var dropped int
			for _, participant := range idle {
				wallet := participant.WalletAddress
				if wallet == "" || seen[wallet] {
					continue
				}
				seen[wallet] = true

				staked, err := client.VerifyStake(ctx, wallet)
				if err != nil {
					log.Printf("⚠️ Stake check for %s failed, keeping verified: %v", wallet, err)
					continue
				}
				if staked {
					continue
				}
				affected, err := store.MarkUnverified(wallet)
				if err != nil {
					log.Printf("❌ Failed to unverify %s: %v", wallet, err)
					continue
				}
				dropped += int(affected)
			}
			if dropped > 0 {
				log.Printf("📤 Dropped %d participant(s) with withdrawn stakes from the pool", dropped)
			}
		}
	}
}
