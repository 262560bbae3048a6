package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// Chat member statuses that count as "still in the group" for matchmaking.
const (
	MemberStatusMember        = "member"
	MemberStatusAdministrator = "administrator"
	MemberStatusCreator       = "creator"
)

// Messenger is what the orchestration core needs from the chat transport:
// notify a group and check whether a user is still a member. It is never a
// source of ordering guarantees.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	GetChatMember(ctx context.Context, chatID, userID int64) (string, error)
}

// TelegramClient talks to the Telegram Bot API over plain HTTP.
type TelegramClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewTelegramClient() *TelegramClient {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN environment variable is required")
	}
	return &TelegramClient{
		BaseURL: "https://api.telegram.org",
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *TelegramClient) call(ctx context.Context, method string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.BaseURL, c.Token, method)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var decoded telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode telegram %s response: %w", method, err)
	}
	if !decoded.OK {
		return nil, fmt.Errorf("telegram %s returned an error: %s", method, decoded.Description)
	}
	return decoded.Result, nil
}

// SendMessage posts a text message into a group chat.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	})
	return err
}

// GetChatMember returns the membership status of a user in a chat
// (member, administrator, creator, left, kicked, restricted).
func (c *TelegramClient) GetChatMember(ctx context.Context, chatID, userID int64) (string, error) {
	result, err := c.call(ctx, "getChatMember", map[string]interface{}{
		"chat_id": chatID,
		"user_id": userID,
	})
	if err != nil {
		return "", err
	}
	var member struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(result, &member); err != nil {
		return "", fmt.Errorf("failed to decode chat member: %w", err)
	}
	return member.Status, nil
}

// IsActiveMember reports whether a membership status still allows battle
// participation.
func IsActiveMember(status string) bool {
	switch status {
	case MemberStatusMember, MemberStatusAdministrator, MemberStatusCreator:
		return true
	}
	return false
}
