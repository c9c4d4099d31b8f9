// Пакет blobclient — HTTP-клиент публикации файлов на blob host
// (catbox-совместимый API: multipart POST, в ответе — постоянная ссылка).
// Одна попытка на вызов, повторы — решение вызывающего.
package blobclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// maxResponseSize — ответ blob host — одна строка со ссылкой.
const maxResponseSize = 64 << 10

// linkScheme — успешный ответ обязан начинаться с этой схемы.
const linkScheme = "https://"

// ErrPublish — blob host отклонил загрузку или вернул некорректный ответ.
var ErrPublish = errors.New("публикация на blob host не удалась")

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mg_blob_uploads_total",
		Help: "Количество загрузок на blob host (по результату).",
	}, []string{"result"})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mg_blob_upload_duration_seconds",
		Help:    "Длительность загрузки файла на blob host.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mg_blob_upload_bytes_total",
		Help: "Общее количество байт, отправленных на blob host.",
	})
)

// Client — клиент blob host.
type Client struct {
	uploadURL  string
	userHash   string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент.
// uploadURL — endpoint загрузки, userHash — необязательный идентификатор аккаунта,
// timeout — общий таймаут загрузки одного файла.
func New(uploadURL, userHash string, timeout time.Duration, logger *slog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
	}
	return &Client{
		uploadURL: uploadURL,
		userHash:  userHash,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger.With(slog.String("component", "blob_client")),
	}
}

// Publish загружает файл и возвращает постоянную ссылку.
// Тело запроса формируется потоково через io.Pipe, файл не читается в память целиком.
// Удаление локального файла — ответственность вызывающего.
func (c *Client) Publish(ctx context.Context, path string) (string, error) {
	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: открытие файла: %v", ErrPublish, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(c.writeBody(mw, f, filepath.Base(path)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		uploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: создание запроса: %v", ErrPublish, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		uploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: чтение ответа: %v", ErrPublish, err)
	}

	link, err := parseLink(resp.StatusCode, body)
	if err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		c.logger.Warn("Blob host отклонил загрузку",
			slog.Int("status", resp.StatusCode),
			slog.String("body", truncate(string(body), 200)),
		)
		return "", err
	}

	uploadsTotal.WithLabelValues("success").Inc()
	uploadDuration.Observe(time.Since(start).Seconds())
	if st, statErr := f.Stat(); statErr == nil {
		uploadBytesTotal.Add(float64(st.Size()))
	}

	c.logger.Debug("Файл опубликован",
		slog.String("link", link),
		slog.Duration("duration", time.Since(start)),
	)
	return link, nil
}

// writeBody пишет multipart-тело: reqtype, userhash, fileToUpload.
func (c *Client) writeBody(mw *multipart.Writer, src io.Reader, filename string) error {
	if err := mw.WriteField("reqtype", "fileupload"); err != nil {
		return err
	}
	if c.userHash != "" {
		if err := mw.WriteField("userhash", c.userHash); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("fileToUpload", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

// parseLink проверяет ответ: 2xx и тело — https-ссылка.
func parseLink(status int, body []byte) (string, error) {
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("%w: статус %d", ErrPublish, status)
	}
	link := strings.TrimSpace(string(body))
	if !strings.HasPrefix(link, linkScheme) || strings.ContainsAny(link, " \n\t") || len(link) == len(linkScheme) {
		return "", fmt.Errorf("%w: некорректная ссылка в ответе", ErrPublish)
	}
	return link, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
