package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// Update is one inbound event from the getUpdates long poll.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is an inbound chat message, possibly carrying an attachment.
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      Chat        `json:"chat"`
	Date      int64       `json:"date"`
	Text      string      `json:"text,omitempty"`
	Document  *Document   `json:"document,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Video     *Video      `json:"video,omitempty"`
	Audio     *Audio      `json:"audio,omitempty"`
}

type User struct {
	ID int64 `json:"id"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
}

type PhotoSize struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
}

type Video struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
}

type Audio struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
}

// apiResponse is the generic Bot API response wrapper.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Client is a minimal Telegram Bot API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithBaseURL overrides the API host, used by tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Bot API client for the given bot token. The HTTP
// timeout must exceed the long-poll timeout passed to GetUpdates.
func NewClient(token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram: bot token must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) apiURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

func (c *Client) fileURL(filePath string) string {
	return c.baseURL + "/file/bot" + c.token + "/" + filePath
}

// GetUpdates long-polls the Bot API for new updates at or after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeoutSeconds))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL("getUpdates")+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create getUpdates request: %w", err)
	}

	raw, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: getUpdates: %w", err)
	}

	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parse getUpdates result: %w", err)
	}
	return updates, nil
}

type sendMessagePayload struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// SendMessage sends a text message to the given chat and returns the new
// message id. With markdown enabled the Bot API rejects malformed markup;
// the error is returned so callers can resend as plain text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markdown bool) (int64, error) {
	payload := sendMessagePayload{ChatID: chatID, Text: text}
	if markdown {
		payload.ParseMode = "Markdown"
	}

	raw, err := c.postJSON(ctx, "sendMessage", payload)
	if err != nil {
		return 0, fmt.Errorf("telegram: sendMessage: %w", err)
	}

	var sent Message
	if err := json.Unmarshal(raw, &sent); err != nil {
		return 0, fmt.Errorf("telegram: parse sendMessage result: %w", err)
	}
	return sent.MessageID, nil
}

type editMessagePayload struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// EditMessageText replaces the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markdown bool) error {
	payload := editMessagePayload{ChatID: chatID, MessageID: messageID, Text: text}
	if markdown {
		payload.ParseMode = "Markdown"
	}
	if _, err := c.postJSON(ctx, "editMessageText", payload); err != nil {
		return fmt.Errorf("telegram: editMessageText: %w", err)
	}
	return nil
}

type chatActionPayload struct {
	ChatID int64  `json:"chat_id"`
	Action string `json:"action"`
}

// SendChatAction sets a transient activity indicator ("typing",
// "upload_document") on the chat.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	if _, err := c.postJSON(ctx, "sendChatAction", chatActionPayload{ChatID: chatID, Action: action}); err != nil {
		return fmt.Errorf("telegram: sendChatAction: %w", err)
	}
	return nil
}

type fileInfo struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// Download resolves the file id via getFile and fetches the attachment
// bytes fully into memory.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	params := url.Values{}
	params.Set("file_id", fileID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL("getFile")+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create getFile request: %w", err)
	}
	raw, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: getFile: %w", err)
	}

	var info fileInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("telegram: parse getFile result: %w", err)
	}
	if info.FilePath == "" {
		return nil, errors.New("telegram: getFile returned no file path")
	}

	fileReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(info.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create download request: %w", err)
	}
	res, err := c.httpClient.Do(fileReq)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download file: unexpected status %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram: read file body: %w", err)
	}
	return body, nil
}

func (c *Client) postJSON(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(method), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// do executes the request and unwraps the Bot API envelope. ok:false is
// an error regardless of HTTP status.
func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if !envelope.OK {
		desc := envelope.Description
		if desc == "" {
			desc = fmt.Sprintf("status %d", res.StatusCode)
		}
		return nil, fmt.Errorf("api error: %s", desc)
	}
	return envelope.Result, nil
}
