// Package bot serves the product classifier over Telegram.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ayusman/produkscan/internal/frame"
	"github.com/ayusman/produkscan/internal/logger"
	"github.com/ayusman/produkscan/internal/pipeline"
	"github.com/ayusman/produkscan/internal/rank"
	"github.com/ayusman/produkscan/internal/store"
)

const (
	msgStart = `Hi! I recognize packaged products held in a hand.

Send me a photo of the product and I will tell you what it is.

Commands:
/top - show only the best match
/list - show every match
/help - how to take a good photo`

	msgHelp = `How to use the bot:

1. Hold the product in your hand, facing the camera
2. Send the photo
3. You get the detected products and the crop that was classified

Tips:
- Use good lighting
- Keep the product label visible
- One product per photo works best`

	msgSendPhoto       = "Please send a photo of the product."
	msgUnknownCommand  = "Unknown command. Use /help."
	msgProcessing      = "Processing image..."
	msgProcessingError = "Could not download the image. Please try again."
	msgTopMode         = "Top-1 mode on: only the best match is shown. Send /list to see every match."
	msgListMode        = "List mode on: every match above the threshold is shown."
)

// DownloadTimeout bounds one photo download.
const DownloadTimeout = 30 * time.Second

// Client is the part of the Telegram API the bot uses.
type Client interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Classifier runs one image through the pipeline on behalf of a front-end.
type Classifier interface {
	Classify(ctx context.Context, src pipeline.Source, img frame.Image, mode rank.Mode) (*pipeline.Outcome, error)
}

// Settings persists the per-chat result mode.
type Settings interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Bot answers product photos with the detected products.
type Bot struct {
	client     Client
	classifier Classifier
	settings   Settings
	http       *resty.Client
}

// New creates a Bot. With nil settings the chat modes are kept in memory.
func New(client Client, classifier Classifier, settings Settings) *Bot {
	if settings == nil {
		settings = newMemorySettings()
	}
	return &Bot{
		client:     client,
		classifier: classifier,
		settings:   settings,
		http:       resty.New().SetTimeout(DownloadTimeout),
	}
}

// NewAPI connects to Telegram with token.
func NewAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = debug

	logger.Log().Info("authorized on telegram", zap.String("account", api.Self.UserName))
	return api, nil
}

// Run handles updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.client.GetUpdatesChan(u)
	defer b.client.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg)
		return
	}

	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.sendMessage(chatID, msgStart)

	case "help":
		b.sendMessage(chatID, msgHelp)

	case "top":
		mode := rank.ModeTop1
		reply := msgTopMode
		if b.mode(chatID) == rank.ModeTop1 {
			mode, reply = rank.ModeList, msgListMode
		}
		b.setMode(chatID, mode)
		b.sendMessage(chatID, reply)

	case "list":
		b.setMode(chatID, rank.ModeList)
		b.sendMessage(chatID, msgListMode)

	default:
		b.sendMessage(chatID, msgUnknownCommand)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	log := logger.Log().With(zap.Int64("chat", chatID))

	b.sendMessage(chatID, msgProcessing)

	// Telegram lists the sizes smallest first.
	photo := msg.Photo[len(msg.Photo)-1]

	data, err := b.downloadFile(ctx, photo.FileID)
	if err != nil {
		log.Error("failed to download photo", zap.Error(err))
		b.sendMessage(chatID, msgProcessingError)
		return
	}
	log.Info("received photo", zap.Int("bytes", len(data)), zap.Int("width", photo.Width), zap.Int("height", photo.Height))

	img, err := frame.Decode(data)
	if err != nil {
		log.Warn("unusable photo", zap.Error(err))
	}
	defer img.Close()

	out, _ := b.classifier.Classify(ctx, pipeline.SourceTelegram, img, b.mode(chatID))
	defer out.Close()

	b.sendResult(chatID, out)
}

// sendResult replies with the crop that was classified and the result text
// as its caption, or with the text alone when no crop was produced.
func (b *Bot) sendResult(chatID int64, out *pipeline.Outcome) {
	if out.Crop.Validate() != nil {
		b.sendMessage(chatID, out.Text())
		return
	}

	preview, err := frame.EncodeJPEG(out.Crop)
	if err != nil {
		logger.Log().Warn("failed to encode crop preview", zap.Error(err))
		b.sendMessage(chatID, out.Text())
		return
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "crop.jpg", Bytes: preview})
	photo.Caption = out.Text()
	if _, err := b.client.Send(photo); err != nil {
		logger.Log().Error("failed to send crop preview", zap.Int64("chat", chatID), zap.Error(err))
		b.sendMessage(chatID, out.Text())
	}
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.client.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	resp, err := b.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download file: %s", resp.Status())
	}
	return resp.Body(), nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.client.Send(msg); err != nil {
		logger.Log().Error("failed to send message", zap.Int64("chat", chatID), zap.Error(err))
	}
}

func modeKey(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10) + ":mode"
}

// mode returns the chat's result mode, list unless the chat chose top1.
func (b *Bot) mode(chatID int64) rank.Mode {
	v, err := b.settings.Get(modeKey(chatID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Log().Warn("failed to read chat mode", zap.Int64("chat", chatID), zap.Error(err))
		}
		return rank.ModeList
	}
	m, err := rank.ParseMode(v)
	if err != nil {
		return rank.ModeList
	}
	return m
}

func (b *Bot) setMode(chatID int64, m rank.Mode) {
	if err := b.settings.Set(modeKey(chatID), string(m)); err != nil {
		logger.Log().Error("failed to save chat mode", zap.Int64("chat", chatID), zap.Error(err))
	}
}

type memorySettings struct {
	mu     sync.RWMutex
	values map[string]string
}

func newMemorySettings() *memorySettings {
	return &memorySettings{values: make(map[string]string)}
}

func (s *memorySettings) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (s *memorySettings) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
