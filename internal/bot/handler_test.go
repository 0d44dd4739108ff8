package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"license-gate/internal/database"
	"license-gate/internal/game"
	"license-gate/internal/service"
	"license-gate/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminID = int64(1000)
	chatID  = int64(555)
	userID  = int64(777)
)

const testScript = `
steps:
  - id: door
    intro:
      - text: "Which word opens the door?"
      - photo: door.png
        caption: "The door."
    answers: [Sesam]
    success:
      - text: "The door swings open."
    failure: "Wrong word."
    hints: ["It is a seed."]
    no_more_hints: "No more hints."
  - id: vault
    intro:
      - album: [a.png, b.png, gone.png]
    answers: [b]
    match: fold
finale:
  - video: final.mp4
    caption: "You made it."
    missing: "Final video missing."
`

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return tgbotapi.Message{}, errors.New("telegram down")
	}
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.sent = append(f.sent, m.Text)
	case tgbotapi.PhotoConfig:
		f.sent = append(f.sent, "photo:"+m.Caption)
	case tgbotapi.AudioConfig:
		f.sent = append(f.sent, "audio:"+m.Caption)
	case tgbotapi.VideoConfig:
		f.sent = append(f.sent, "video:"+m.Caption)
	default:
		f.sent = append(f.sent, "other")
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) SendMediaGroup(cfg tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, "album:"+strings.Repeat("#", len(cfg.Media)))
	return nil, nil
}

func (f *fakeSender) take() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type fixture struct {
	h        *Handler
	sender   *fakeSender
	licenses *service.LicenseService
	sessions *session.MemoryStore
}

func newFixture(t *testing.T, withAssets bool) *fixture {
	t.Helper()

	script, err := game.Parse([]byte(testScript))
	require.NoError(t, err)

	assets := t.TempDir()
	if withAssets {
		for _, name := range []string{"door.png", "a.png", "b.png", "final.mp4"} {
			require.NoError(t, os.WriteFile(filepath.Join(assets, name), []byte("x"), 0o600))
		}
	}

	db := database.NewTestDB(t)
	licenses := service.NewLicenseService(database.NewLicenseStore(db, 10*time.Second))
	sessions := session.NewMemoryStore(time.Hour)
	sender := &fakeSender{}

	h, err := NewHandler(sender, licenses, sessions, script, assets, adminID, zerolog.Nop())
	require.NoError(t, err)
	return &fixture{h: h, sender: sender, licenses: licenses, sessions: sessions}
}

func message(from int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: from},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.SplitN(text, " ", 2)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: msg}
}

func (f *fixture) say(from int64, text string) []string {
	f.h.HandleUpdate(context.Background(), message(from, text))
	return f.sender.take()
}

func (f *fixture) issue(t *testing.T) string {
	t.Helper()
	issued, err := f.licenses.Issue(context.Background(), "test", "player@example.com", nil)
	require.NoError(t, err)
	return issued.Code
}

func (f *fixture) step(t *testing.T) (session.Session, bool) {
	t.Helper()
	s, ok, err := f.sessions.Get(context.Background(), chatID)
	require.NoError(t, err)
	return s, ok
}

func TestTextBeforeStart(t *testing.T) {
	f := newFixture(t, true)
	assert.Equal(t, []string{msgStartFirst}, f.say(userID, "hello"))
	assert.Equal(t, []string{msgStartFirst}, f.say(userID, "/help"))
}

func TestLicenseGateFlow(t *testing.T) {
	f := newFixture(t, true)
	code := f.issue(t)

	assert.Equal(t, []string{msgGate}, f.say(userID, "/start"))
	s, ok := f.step(t)
	require.True(t, ok)
	assert.Equal(t, StepLicense, s.Step)

	assert.Equal(t, []string{msgLicenseTip}, f.say(userID, "/help"))
	assert.Equal(t, []string{msgRejected}, f.say(userID, "AAAA-BBBB-CCCC-DDDD-EEEE"))

	assert.Equal(t, []string{msgAccepted}, f.say(userID, "  "+strings.ToLower(code)+" "))
	_, ok = f.step(t)
	assert.False(t, ok)

	assert.Equal(t, []string{"Which word opens the door?", "photo:The door."}, f.say(userID, "/start"))
	s, _ = f.step(t)
	assert.Equal(t, "door", s.Step)
}

func TestUsedCodeLooksLikeUnknownCode(t *testing.T) {
	f := newFixture(t, true)
	code := f.issue(t)
	ok, err := f.licenses.Redeem(context.Background(), 1, code)
	require.NoError(t, err)
	require.True(t, ok)

	f.say(userID, "/start")
	assert.Equal(t, []string{msgRejected}, f.say(userID, code))
	assert.Equal(t, []string{msgRejected}, f.say(userID, "nonsense"))
}

func TestGameProgression(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.licenses.Redeem(context.Background(), userID, f.issue(t))
	require.NoError(t, err)

	f.say(userID, "/start")

	assert.Equal(t, []string{"It is a seed."}, f.say(userID, "/help"))
	assert.Equal(t, []string{"No more hints."}, f.say(userID, "/help"))
	s, _ := f.step(t)
	assert.Equal(t, 2, s.HelpCount)

	assert.Equal(t, []string{"Wrong word."}, f.say(userID, "sesam"))

	assert.Equal(t, []string{"The door swings open.", "album:##"}, f.say(userID, "Sesam"))
	s, _ = f.step(t)
	assert.Equal(t, session.Session{Step: "vault"}, s)

	assert.Equal(t, []string{msgNoHints}, f.say(userID, "/help"))
	assert.Equal(t, []string{msgWrong}, f.say(userID, "a"))

	assert.Equal(t, []string{"video:You made it."}, f.say(userID, " B "))
	_, ok := f.step(t)
	assert.False(t, ok)
}

func TestMissingMediaFallsBackToText(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.licenses.Redeem(context.Background(), userID, f.issue(t))
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"Which word opens the door?", "⚠️ Datei door.png fehlt auf dem Server.", "The door."},
		f.say(userID, "/start"))

	sent := f.say(userID, "Sesam")
	assert.Equal(t, "The door swings open.", sent[0])
	assert.Equal(t, "⚠️ Datei album fehlt auf dem Server.", sent[1])

	assert.Equal(t, []string{"Final video missing.", "You made it."}, f.say(userID, "b"))
}

func TestLostAccessReturnsToGate(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.sessions.Save(context.Background(), chatID, session.Session{Step: "vault"}))

	assert.Equal(t, []string{msgAccessLost}, f.say(userID, "b"))
	s, _ := f.step(t)
	assert.Equal(t, StepLicense, s.Step)
}

func TestUnknownSessionStepRestarts(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.licenses.Redeem(context.Background(), userID, f.issue(t))
	require.NoError(t, err)
	require.NoError(t, f.sessions.Save(context.Background(), chatID, session.Session{Step: "removed"}))

	assert.Equal(t, []string{msgStartFirst}, f.say(userID, "anything"))
	_, ok := f.step(t)
	assert.False(t, ok)
}

func TestAdminGen(t *testing.T) {
	f := newFixture(t, true)

	assert.Empty(t, f.say(userID, "/gen someone@example.com"))
	assert.Equal(t, []string{msgGenUsage}, f.say(adminID, "/gen"))

	sent := f.say(adminID, "/gen Someone@Example.com")
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "✅ Neuer Code für someone@example.com:\n"))

	code := strings.SplitN(sent[0], "\n", 2)[1]
	ok, err := f.licenses.Redeem(context.Background(), userID, code)
	require.NoError(t, err)
	assert.True(t, ok)
}

type brokenLicenses struct{}

func (brokenLicenses) CheckAccess(context.Context, int64) (bool, error) {
	return false, database.ErrStore
}

func (brokenLicenses) Redeem(context.Context, int64, string) (bool, error) {
	return false, database.ErrStore
}

func (brokenLicenses) Issue(context.Context, string, string, map[string]interface{}) (*service.IssuedLicense, error) {
	return nil, database.ErrStore
}

func TestStoreErrorsKeepState(t *testing.T) {
	script, err := game.Parse([]byte(testScript))
	require.NoError(t, err)
	sessions := session.NewMemoryStore(time.Hour)
	sender := &fakeSender{}
	h, err := NewHandler(sender, brokenLicenses{}, sessions, script, t.TempDir(), adminID, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	h.HandleUpdate(ctx, message(userID, "/start"))
	assert.Equal(t, []string{msgTryLater}, sender.take())
	_, ok, _ := sessions.Get(ctx, chatID)
	assert.False(t, ok)

	require.NoError(t, sessions.Save(ctx, chatID, session.Session{Step: StepLicense}))
	h.HandleUpdate(ctx, message(userID, "ABCD"))
	assert.Equal(t, []string{msgTryLater}, sender.take())
	s, _, _ := sessions.Get(ctx, chatID)
	assert.Equal(t, StepLicense, s.Step)

	require.NoError(t, sessions.Save(ctx, chatID, session.Session{Step: "door", HelpCount: 1}))
	h.HandleUpdate(ctx, message(userID, "Sesam"))
	assert.Equal(t, []string{msgTryLater}, sender.take())
	s, _, _ = sessions.Get(ctx, chatID)
	assert.Equal(t, session.Session{Step: "door", HelpCount: 1}, s)

	h.HandleUpdate(ctx, message(adminID, "/gen a@example.com"))
	assert.Equal(t, []string{msgTryLater}, sender.take())
}

func TestReservedStepID(t *testing.T) {
	script, err := game.Parse([]byte("steps:\n  - id: license\n    answers: [a]"))
	require.NoError(t, err)

	_, err = NewHandler(&fakeSender{}, brokenLicenses{}, session.NewMemoryStore(time.Hour), script, "", 0, zerolog.Nop())
	assert.ErrorIs(t, err, game.ErrInvalidScript)
}

func TestIgnoresNonMessageUpdates(t *testing.T) {
	f := newFixture(t, true)
	f.h.HandleUpdate(context.Background(), tgbotapi.Update{UpdateID: 1})
	f.h.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}}})
	assert.Empty(t, f.sender.take())
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	f := newFixture(t, true)
	updates := make(chan tgbotapi.Update, 2)
	updates <- message(userID, "hello")
	close(updates)

	f.h.Run(context.Background(), updates)
	assert.Equal(t, []string{msgStartFirst}, f.sender.take())
}

func TestSendFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t, true)
	f.sender.fail = true
	assert.NotPanics(t, func() { f.say(userID, "/start") })
	s, ok := f.step(t)
	require.True(t, ok)
	assert.Equal(t, StepLicense, s.Step)
}

func TestConcurrentAnswersFromOneChatAdvanceOnce(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.licenses.Redeem(context.Background(), userID, f.issue(t))
	require.NoError(t, err)
	f.say(userID, "/start")

	const n = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			f.h.HandleUpdate(context.Background(), message(userID, "Sesam"))
		}()
	}
	close(start)
	wg.Wait()

	counts := map[string]int{}
	for _, text := range f.sender.take() {
		counts[text]++
	}
	assert.Equal(t, 1, counts["The door swings open."])
	assert.Equal(t, 1, counts["album:##"])
	assert.Equal(t, n-1, counts[msgWrong])

	s, _ := f.step(t)
	assert.Equal(t, "vault", s.Step)

	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	assert.Empty(t, f.h.chats)
}
