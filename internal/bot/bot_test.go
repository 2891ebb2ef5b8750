package bot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/produkscan/internal/classify"
	"github.com/ayusman/produkscan/internal/detector"
	"github.com/ayusman/produkscan/internal/frame"
	"github.com/ayusman/produkscan/internal/pipeline"
	"github.com/ayusman/produkscan/internal/rank"
	"github.com/ayusman/produkscan/internal/store"
)

type fakeClient struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	fileURL string
	fileErr error
	updates chan tgbotapi.Update
	stopped bool
}

func (c *fakeClient) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.updates
}

func (c *fakeClient) StopReceivingUpdates() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *fakeClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return tgbotapi.Message{}, nil
}

func (c *fakeClient) GetFileDirectURL(fileID string) (string, error) {
	if c.fileErr != nil {
		return "", c.fileErr
	}
	return c.fileURL + "/" + fileID, nil
}

// texts returns the text or caption of every sent message.
func (c *fakeClient) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.sent {
		switch m := m.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.PhotoConfig:
			out = append(out, m.Caption)
		}
	}
	return out
}

type pipelineClassifier struct {
	p *pipeline.Pipeline
}

func (pc pipelineClassifier) Classify(ctx context.Context, src pipeline.Source, img frame.Image, mode rank.Mode) (*pipeline.Outcome, error) {
	return pc.p.Run(pipeline.WithSource(ctx, src), img, mode)
}

type recordingClassifier struct {
	pipelineClassifier
	sources []pipeline.Source
	modes   []rank.Mode
}

func (rc *recordingClassifier) Classify(ctx context.Context, src pipeline.Source, img frame.Image, mode rank.Mode) (*pipeline.Outcome, error) {
	rc.sources = append(rc.sources, src)
	rc.modes = append(rc.modes, mode)
	return rc.pipelineClassifier.Classify(ctx, src, img, mode)
}

func newClassifier() *recordingClassifier {
	conf := classify.Vector(map[string]float32{"Silverqueen": 0.6, "KokoCrunch": 0.3})
	p := pipeline.New(detector.NoHands{}, classify.NewMockClassifier(conf), pipeline.DefaultConfig())
	return &recordingClassifier{pipelineClassifier: pipelineClassifier{p: p}}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(3, 3, color.NRGBA{R: 10, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func fileServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func command(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func photo(chatID int64, fileID string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "thumb", Width: 16, Height: 12},
			{FileID: fileID, Width: 64, Height: 48},
		},
	}
}

func TestBot_Commands(t *testing.T) {
	client := &fakeClient{}
	b := New(client, newClassifier(), nil)

	b.handleMessage(context.Background(), command(1, "/start"))
	b.handleMessage(context.Background(), command(1, "/help"))
	b.handleMessage(context.Background(), command(1, "/nope"))
	b.handleMessage(context.Background(), &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hello"})

	assert.Equal(t, []string{msgStart, msgHelp, msgUnknownCommand, msgSendPhoto}, client.texts())
}

func TestBot_TopToggle(t *testing.T) {
	client := &fakeClient{}
	b := New(client, newClassifier(), nil)

	assert.Equal(t, rank.ModeList, b.mode(7))

	b.handleMessage(context.Background(), command(7, "/top"))
	assert.Equal(t, rank.ModeTop1, b.mode(7))
	assert.Equal(t, rank.ModeList, b.mode(8), "modes are per chat")

	b.handleMessage(context.Background(), command(7, "/top"))
	assert.Equal(t, rank.ModeList, b.mode(7))

	b.handleMessage(context.Background(), command(7, "/top"))
	b.handleMessage(context.Background(), command(7, "/list"))
	assert.Equal(t, rank.ModeList, b.mode(7))

	assert.Equal(t, []string{msgTopMode, msgListMode, msgTopMode, msgListMode}, client.texts())
}

func TestBot_ModePersistsInStore(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	defer s.Close()

	b := New(&fakeClient{}, newClassifier(), s.Settings())
	b.handleMessage(context.Background(), command(99, "/top"))

	v, err := s.Settings().Get("chat:99:mode")
	require.NoError(t, err)
	assert.Equal(t, "top1", v)

	restarted := New(&fakeClient{}, newClassifier(), s.Settings())
	assert.Equal(t, rank.ModeTop1, restarted.mode(99))
}

func TestBot_Photo(t *testing.T) {
	ts := fileServer(t, pngBytes(t))
	client := &fakeClient{fileURL: ts.URL}
	cls := newClassifier()
	b := New(client, cls, nil)

	b.handleMessage(context.Background(), photo(5, "full"))

	require.Len(t, client.sent, 2)
	assert.Equal(t, msgProcessing, client.sent[0].(tgbotapi.MessageConfig).Text)

	preview, ok := client.sent[1].(tgbotapi.PhotoConfig)
	require.True(t, ok, "result is sent as the crop preview")
	assert.Equal(t, "Detected products:\nSilverqueen (60.00%)\nKokoCrunch (30.00%)\nCount: 2", preview.Caption)

	file, ok := preview.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.NotEmpty(t, file.Bytes)

	assert.Equal(t, []pipeline.Source{pipeline.SourceTelegram}, cls.sources)
	assert.Equal(t, []rank.Mode{rank.ModeList}, cls.modes)
}

func TestBot_PhotoInTopMode(t *testing.T) {
	ts := fileServer(t, pngBytes(t))
	client := &fakeClient{fileURL: ts.URL}
	cls := newClassifier()
	b := New(client, cls, nil)

	b.handleMessage(context.Background(), command(5, "/top"))
	b.handleMessage(context.Background(), photo(5, "full"))

	assert.Equal(t, []rank.Mode{rank.ModeTop1}, cls.modes)
	texts := client.texts()
	assert.Equal(t, "Detected product:\nSilverqueen (60.00%)", texts[len(texts)-1])
}

func TestBot_PhotoFailures(t *testing.T) {
	t.Run("file lookup fails", func(t *testing.T) {
		client := &fakeClient{fileErr: errors.New("file too big")}
		cls := newClassifier()
		b := New(client, cls, nil)

		b.handleMessage(context.Background(), photo(5, "full"))

		assert.Equal(t, []string{msgProcessing, msgProcessingError}, client.texts())
		assert.Empty(t, cls.sources)
	})

	t.Run("download fails", func(t *testing.T) {
		ts := fileServer(t, nil)
		client := &fakeClient{fileURL: ts.URL}
		b := New(client, newClassifier(), nil)

		b.handleMessage(context.Background(), photo(5, "missing"))

		assert.Equal(t, []string{msgProcessing, msgProcessingError}, client.texts())
	})

	t.Run("corrupt photo is reported as invalid", func(t *testing.T) {
		ts := fileServer(t, []byte("garbage"))
		client := &fakeClient{fileURL: ts.URL}
		b := New(client, newClassifier(), nil)

		b.handleMessage(context.Background(), photo(5, "full"))

		assert.Equal(t, []string{msgProcessing, rank.InvalidImageText}, client.texts())
	})
}

func TestBot_Run(t *testing.T) {
	client := &fakeClient{updates: make(chan tgbotapi.Update, 3)}
	client.updates <- tgbotapi.Update{UpdateID: 1}
	client.updates <- tgbotapi.Update{UpdateID: 2, Message: command(3, "/start")}
	close(client.updates)

	b := New(client, newClassifier(), nil)
	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, []string{msgStart}, client.texts())
	assert.True(t, client.stopped)
}

func TestBot_RunStopsOnCancel(t *testing.T) {
	client := &fakeClient{updates: make(chan tgbotapi.Update)}
	b := New(client, newClassifier(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, b.Run(ctx))
	assert.True(t, client.stopped)
}
