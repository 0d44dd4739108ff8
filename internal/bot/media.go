package bot

import (
	"fmt"
	"os"
	"path/filepath"

	"license-gate/internal/game"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (h *Handler) sendText(chatID int64, text string) {
	h.send(tgbotapi.NewMessage(chatID, text))
}

func (h *Handler) send(c tgbotapi.Chattable) {
	if _, err := h.sender.Send(c); err != nil {
		h.log.Warn().Err(err).Msg("telegram send failed")
	}
}

func (h *Handler) sendAll(chatID int64, msgs []game.Message) {
	for _, m := range msgs {
		h.sendMessage(chatID, m)
	}
}

func (h *Handler) sendMessage(chatID int64, m game.Message) {
	if m.Text != "" {
		out := tgbotapi.NewMessage(chatID, m.Text)
		out.ParseMode = m.ParseMode
		h.send(out)
		return
	}

	if len(m.Album) > 0 {
		h.sendAlbum(chatID, m)
		return
	}

	name := m.Media()[0]
	path, ok := h.asset(name)
	if !ok {
		h.sendMissing(chatID, m, name)
		return
	}

	file := tgbotapi.FilePath(path)
	switch {
	case m.Photo != "":
		out := tgbotapi.NewPhoto(chatID, file)
		out.Caption, out.ParseMode = m.Caption, m.ParseMode
		h.send(out)
	case m.Audio != "":
		out := tgbotapi.NewAudio(chatID, file)
		out.Caption, out.ParseMode = m.Caption, m.ParseMode
		h.send(out)
	case m.Video != "":
		out := tgbotapi.NewVideo(chatID, file)
		out.Caption, out.ParseMode = m.Caption, m.ParseMode
		h.send(out)
	}
}

func (h *Handler) sendAlbum(chatID int64, m game.Message) {
	var media []interface{}
	for _, name := range m.Album {
		path, ok := h.asset(name)
		if !ok {
			continue
		}
		photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FilePath(path))
		if len(media) == 0 && m.Caption != "" {
			photo.Caption, photo.ParseMode = m.Caption, m.ParseMode
		}
		media = append(media, photo)
	}

	if len(media) == 0 {
		h.sendMissing(chatID, m, "album")
		return
	}
	if _, err := h.sender.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media)); err != nil {
		h.log.Warn().Err(err).Msg("telegram media group failed")
	}
}

// sendMissing stands in for an absent media file: a warning, then the
// caption so the riddle stays playable.
func (h *Handler) sendMissing(chatID int64, m game.Message, name string) {
	h.log.Warn().Str("asset", name).Msg("media file missing")

	warning := m.Missing
	if warning == "" {
		warning = fmt.Sprintf("⚠️ Datei %s fehlt auf dem Server.", name)
	}
	h.sendText(chatID, warning)

	if m.Caption != "" {
		out := tgbotapi.NewMessage(chatID, m.Caption)
		out.ParseMode = m.ParseMode
		h.send(out)
	}
}

func (h *Handler) asset(name string) (string, bool) {
	path := filepath.Join(h.assetDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}
