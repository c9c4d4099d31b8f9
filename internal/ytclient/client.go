// Пакет ytclient — адаптер к yt-dlp (через go-ytdlp): поиск лучшего совпадения
// по тексту запроса и загрузка контента в локальный файл.
// Retry, ротация прокси и проверка результата — на стороне сервисного слоя;
// здесь только одна попытка на вызов.
package ytclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	"github.com/bigkaa/mediagate/internal/domain/model"
)

// WatchURLTemplate — канонический URL контента по идентификатору.
const WatchURLTemplate = "https://www.youtube.com/watch?v=%s"

// searchPrefix — встроенный поисковый extractor yt-dlp (одно лучшее совпадение).
const searchPrefix = "ytsearch1:"

// Client — обёртка над исполняемым yt-dlp.
type Client struct {
	format      string
	cookiesPath string
	logger      *slog.Logger
}

// New создаёт клиент.
// format — селектор формата yt-dlp (единый профиль кодеков для воспроизводимости).
// cookiesPath — файл cookies в формате Netscape (пустая строка — без cookies).
func New(format, cookiesPath string, logger *slog.Logger) *Client {
	return &Client{
		format:      format,
		cookiesPath: cookiesPath,
		logger:      logger.With(slog.String("component", "ytclient")),
	}
}

// WatchURL возвращает канонический URL для идентификатора.
func WatchURL(id string) string {
	return fmt.Sprintf(WatchURLTemplate, id)
}

// Search ищет одно лучшее совпадение для текста запроса.
// proxy — egress URI или пустая строка.
// Пустая выдача — model.ErrNoMatch.
func (c *Client) Search(ctx context.Context, query, proxy string) (*model.MediaInfo, error) {
	cmd := ytdlp.New().
		DumpJSON().
		SkipDownload().
		NoPlaylist().
		NoWarnings()
	c.applyCommon(cmd, proxy)

	res, err := cmd.Run(ctx, searchPrefix+query)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp search: %w", err)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("разбор ответа yt-dlp search: %w", err)
	}
	info := firstInfo(infos)
	if info == nil {
		return nil, model.ErrNoMatch
	}
	return info, nil
}

// AttemptFetch выполняет одну попытку загрузки id в outPath.
// Метаданные, которые yt-dlp печатает вместе с загрузкой, возвращаются
// как best-effort (nil, если разобрать их не удалось).
func (c *Client) AttemptFetch(ctx context.Context, id, proxy, outPath string) (*model.MediaInfo, error) {
	res, err := c.fetchCommand(proxy, outPath).Run(ctx, WatchURL(id))
	if err != nil {
		return nil, fmt.Errorf("yt-dlp download %s: %w", id, err)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		c.logger.Debug("Метаданные загрузки не разобраны",
			slog.String("media_id", id),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return firstInfo(infos), nil
}

// fetchCommand собирает команду загрузки.
// NoMtime: mtime файла — момент загрузки, а не Last-Modified источника;
// janitor рабочего каталога судит о возрасте файла по mtime.
func (c *Client) fetchCommand(proxy, outPath string) *ytdlp.Command {
	cmd := ytdlp.New().
		Format(c.format).
		MergeOutputFormat("mp4").
		NoPlaylist().
		ForceIPv4().
		ForceOverwrites().
		NoMtime().
		NoProgress().
		DumpJSON().
		NoSimulate().
		Output(outPath)
	c.applyCommon(cmd, proxy)
	return cmd
}

// applyCommon добавляет прокси и cookies.
func (c *Client) applyCommon(cmd *ytdlp.Command, proxy string) {
	if proxy != "" {
		cmd.Proxy(proxy)
	}
	if c.cookiesPath != "" {
		cmd.Cookies(c.cookiesPath)
	}
}

// firstInfo берёт первую запись с непустым ID.
func firstInfo(infos []*ytdlp.ExtractedInfo) *model.MediaInfo {
	for _, info := range infos {
		if info == nil || strings.TrimSpace(info.ID) == "" {
			continue
		}
		return toMediaInfo(info)
	}
	return nil
}

// toMediaInfo переводит ответ yt-dlp в доменную модель.
func toMediaInfo(info *ytdlp.ExtractedInfo) *model.MediaInfo {
	mi := &model.MediaInfo{ID: info.ID}
	if info.Title != nil {
		mi.Title = strings.TrimSpace(*info.Title)
	}
	if info.Duration != nil {
		mi.DurationSec = *info.Duration
	}
	if info.Thumbnail != nil {
		mi.Thumbnail = *info.Thumbnail
	}
	return mi
}
