// Пакет telegram — минимальный клиент Telegram Bot API:
// отправка сообщений в лог-чат о новых опубликованных записях и
// получение временной ссылки на файл по file_id (getFile).
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/mediagate/internal/domain/model"
)

// TokenLinkPrefix — префикс сохранённой ссылки, которая на самом деле
// является file_id Telegram и требует обновления при каждом обращении.
const TokenLinkPrefix = "tg://"

// ErrAPI — Bot API вернул ok=false.
var ErrAPI = errors.New("ошибка Telegram Bot API")

// Client — клиент Bot API.
type Client struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. chatID — чат для уведомлений (пустой — уведомления отключены).
func New(baseURL, token, chatID string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "telegram")),
	}
}

// apiResponse — общий конверт ответа Bot API.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// fileResult — результат getFile.
type fileResult struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// NotifyPublished отправляет в лог-чат сообщение о новой записи.
func (c *Client) NotifyPublished(ctx context.Context, rec *model.MediaRecord) error {
	if c.chatID == "" {
		return nil
	}
	text := fmt.Sprintf("Новая запись\nID: %s\nНазвание: %s\nДлительность: %s\nСсылка: %s",
		rec.ID, rec.DisplayTitle(), rec.DisplayDuration(), rec.BlobLink)

	form := url.Values{}
	form.Set("chat_id", c.chatID)
	form.Set("text", text)
	form.Set("disable_web_page_preview", "true")

	_, err := c.call(ctx, "sendMessage", form)
	return err
}

// IsTokenLink сообщает, является ли ссылка file_id Telegram.
func IsTokenLink(link string) bool {
	return strings.HasPrefix(link, TokenLinkPrefix)
}

// RefreshLink превращает ссылку вида tg://<file_id> в временный URL загрузки.
func (c *Client) RefreshLink(ctx context.Context, link string) (string, error) {
	fileID := strings.TrimPrefix(link, TokenLinkPrefix)
	if fileID == "" {
		return "", fmt.Errorf("пустой file_id в ссылке %q", link)
	}

	form := url.Values{}
	form.Set("file_id", fileID)

	raw, err := c.call(ctx, "getFile", form)
	if err != nil {
		return "", err
	}

	var fr fileResult
	if err := json.Unmarshal(raw, &fr); err != nil {
		return "", fmt.Errorf("разбор ответа getFile: %w", err)
	}
	if fr.FilePath == "" {
		return "", fmt.Errorf("%w: getFile без file_path", ErrAPI)
	}
	return fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, fr.FilePath), nil
}

// call выполняет метод Bot API и возвращает поле result.
func (c *Client) call(ctx context.Context, method string, form url.Values) (json.RawMessage, error) {
	reqURL := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// URL содержит токен — в ошибку попадает только метод
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("запрос %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа %s: %w", method, err)
	}

	var ar apiResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("разбор ответа %s (статус %d): %w", method, resp.StatusCode, err)
	}
	if !ar.OK {
		return nil, fmt.Errorf("%w: %s: %s", ErrAPI, method, ar.Description)
	}
	return ar.Result, nil
}
