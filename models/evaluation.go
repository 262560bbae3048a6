package models

import "fmt"

// TrackFeatures are the acoustic features the evaluation service extracts
// from each submitted track.
type TrackFeatures struct {
	Acousticness     float64 `json:"acousticness"`
	Danceability     float64 `json:"danceability"`
	Energy           float64 `json:"energy"`
	Instrumentalness float64 `json:"instrumentalness"`
	Key              float64 `json:"key"`
	Liveness         float64 `json:"liveness"`
	Loudness         float64 `json:"loudness"`
}

// TrackRanking is one entry of the ranked evaluator output.
type TrackRanking struct {
	WalletAddress string        `json:"wallet_address"`
	QualityScore  float64       `json:"quality_score"`
	FileName      string        `json:"file_name"`
	Features      TrackFeatures `json:"features"`
}

// EvaluationResult is the JSON body returned by POST /evaluate-tracks/.
// Timestamp is ISO-8601; TransactionHash is display-only.
type EvaluationResult struct {
	WinnerWallet     string         `json:"winner_wallet"`
	WinningTrack     string         `json:"winning_track"`
	Score            float64        `json:"score"`
	Timestamp        string         `json:"timestamp"`
	AllRankings      []TrackRanking `json:"all_rankings"`
	TransactionHash  string         `json:"transaction_hash"`
	ScoreDifferences []float64      `json:"score_differences"`
}

// Validate checks that the fields the publisher depends on are present.
func (r *EvaluationResult) Validate() error {
	if r.WinnerWallet == "" {
		return fmt.Errorf("missing winner_wallet")
	}
	if len(r.AllRankings) == 0 {
		return fmt.Errorf("missing all_rankings")
	}
	for i, ranking := range r.AllRankings {
		if ranking.WalletAddress == "" {
			return fmt.Errorf("ranking #%d has no wallet_address", i+1)
		}
	}
	return nil
}
