// Package bot runs the Telegram conversation: the license gate, code
// redemption and the riddle game behind it.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"license-gate/internal/game"
	"license-gate/internal/service"
	"license-gate/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// StepLicense is the session step of a chat waiting for an access code.
const StepLicense = "license"

const (
	msgGate       = "🔐 Zugriff geschützt.\nBitte sende mir deinen Zugangscode (z.B. ABCD-EFGH-IJKL-MNOP-QRST)."
	msgLicenseTip = "Tipp: Der Zugangscode steht in deiner Kaufbestätigung und sieht aus wie ABCD-EFGH-IJKL-...."
	msgStartFirst = "Bitte starte zuerst mit /start."
	msgAccessLost = "🔐 Zugriff fehlt. Bitte sende zuerst deinen Zugangscode."
	msgAccepted   = "✅ Code akzeptiert! Zugriff wurde aktiviert.\nStarte jetzt bitte erneut mit /start."
	msgRejected   = "❌ Code ungültig oder bereits verwendet.\nBitte prüfe ihn und sende ihn erneut."
	msgTryLater   = "⚠️ Gerade gibt es ein technisches Problem. Bitte versuche es später erneut."
	msgWrong      = "❌ Leider falsch."
	msgNoHints    = "Keine weiteren Hinweise."
	msgGenUsage   = "Nutzung: /gen <email>"
)

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

type LicenseService interface {
	CheckAccess(ctx context.Context, identity int64) (bool, error)
	Redeem(ctx context.Context, identity int64, code string) (bool, error)
	Issue(ctx context.Context, actor, email string, meta map[string]interface{}) (*service.IssuedLicense, error)
}

type Handler struct {
	sender   Sender
	licenses LicenseService
	sessions session.Store
	script   *game.Script
	assetDir string
	adminID  int64
	log      zerolog.Logger

	mu    sync.Mutex
	chats map[int64]*chatLock
}

// chatLock serializes updates of one chat. refs counts holders and waiters so
// idle chats can be dropped from the map.
type chatLock struct {
	mu   sync.Mutex
	refs int
}

func NewHandler(
	sender Sender,
	licenses LicenseService,
	sessions session.Store,
	script *game.Script,
	assetDir string,
	adminID int64,
	log zerolog.Logger,
) (*Handler, error) {
	if _, clash := script.Step(StepLicense); clash {
		return nil, fmt.Errorf("%w: step id %q is reserved", game.ErrInvalidScript, StepLicense)
	}
	return &Handler{
		sender:   sender,
		licenses: licenses,
		sessions: sessions,
		script:   script,
		assetDir: assetDir,
		adminID:  adminID,
		log:      log,
		chats:    make(map[int64]*chatLock),
	}, nil
}

// Run handles polled updates one at a time until ctx is done or the
// channel closes.
func (h *Handler) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, update)
		}
	}
}

func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	unlock := h.lockChat(msg.Chat.ID)
	defer unlock()

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			h.cmdStart(ctx, msg)
		case "help":
			h.cmdHelp(ctx, msg)
		case "gen":
			if h.adminID != 0 && msg.From.ID == h.adminID {
				h.cmdGen(ctx, msg)
			}
		}
		return
	}

	if msg.Text == "" {
		return
	}
	h.handleText(ctx, msg)
}

// lockChat blocks until no other update of chatID is being handled.
func (h *Handler) lockChat(chatID int64) func() {
	h.mu.Lock()
	l, ok := h.chats[chatID]
	if !ok {
		l = &chatLock{}
		h.chats[chatID] = l
	}
	l.refs++
	h.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		h.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.chats, chatID)
		}
		h.mu.Unlock()
	}
}

func (h *Handler) cmdStart(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	licensed, err := h.licenses.CheckAccess(ctx, msg.From.ID)
	if err != nil {
		h.fail(chatID, "check access", err)
		return
	}

	if !licensed {
		if err := h.sessions.Save(ctx, chatID, session.Session{Step: StepLicense}); err != nil {
			h.fail(chatID, "save session", err)
			return
		}
		h.sendText(chatID, msgGate)
		return
	}

	first := h.script.First()
	if err := h.sessions.Save(ctx, chatID, session.Session{Step: first.ID}); err != nil {
		h.fail(chatID, "save session", err)
		return
	}
	h.sendAll(chatID, first.Intro)
}

func (h *Handler) cmdHelp(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	sess, ok, err := h.sessions.Get(ctx, chatID)
	if err != nil {
		h.fail(chatID, "load session", err)
		return
	}
	if !ok {
		h.sendText(chatID, msgStartFirst)
		return
	}
	if sess.Step == StepLicense {
		h.sendText(chatID, msgLicenseTip)
		return
	}

	step, found := h.script.Step(sess.Step)
	if !found {
		h.restart(ctx, chatID, sess.Step)
		return
	}

	sess.HelpCount++
	if err := h.sessions.Save(ctx, chatID, sess); err != nil {
		h.fail(chatID, "save session", err)
		return
	}

	hint := step.Hint(sess.HelpCount)
	if hint == "" {
		hint = msgNoHints
	}
	h.sendText(chatID, hint)
}

func (h *Handler) cmdGen(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	email := strings.TrimSpace(msg.CommandArguments())
	if email == "" {
		h.sendText(chatID, msgGenUsage)
		return
	}

	actor := "telegram:" + strconv.FormatInt(msg.From.ID, 10)
	issued, err := h.licenses.Issue(ctx, actor, email, map[string]interface{}{"source": "telegram"})
	if errors.Is(err, service.ErrInvalidOwner) {
		h.sendText(chatID, msgGenUsage)
		return
	}
	if err != nil {
		h.fail(chatID, "issue license", err)
		return
	}

	h.sendText(chatID, fmt.Sprintf("✅ Neuer Code für %s:\n%s", issued.Email, issued.Code))
}

func (h *Handler) handleText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	identity := msg.From.ID

	sess, ok, err := h.sessions.Get(ctx, chatID)
	if err != nil {
		h.fail(chatID, "load session", err)
		return
	}
	if !ok {
		h.sendText(chatID, msgStartFirst)
		return
	}

	if sess.Step == StepLicense {
		h.redeem(ctx, chatID, identity, msg.Text)
		return
	}

	licensed, err := h.licenses.CheckAccess(ctx, identity)
	if err != nil {
		h.fail(chatID, "check access", err)
		return
	}
	if !licensed {
		if err := h.sessions.Save(ctx, chatID, session.Session{Step: StepLicense}); err != nil {
			h.fail(chatID, "save session", err)
			return
		}
		h.sendText(chatID, msgAccessLost)
		return
	}

	h.answer(ctx, chatID, sess, msg.Text)
}

func (h *Handler) redeem(ctx context.Context, chatID, identity int64, text string) {
	ok, err := h.licenses.Redeem(ctx, identity, text)
	if err != nil {
		h.fail(chatID, "redeem license", err)
		return
	}
	if !ok {
		h.sendText(chatID, msgRejected)
		return
	}

	if err := h.sessions.Reset(ctx, chatID); err != nil {
		h.log.Warn().Err(err).Int64("chat_id", chatID).Msg("reset session after redeem")
	}
	h.sendText(chatID, msgAccepted)
}

func (h *Handler) answer(ctx context.Context, chatID int64, sess session.Session, text string) {
	out, err := h.script.Evaluate(sess.Step, text)
	if errors.Is(err, game.ErrUnknownStep) {
		h.restart(ctx, chatID, sess.Step)
		return
	}
	if err != nil {
		h.fail(chatID, "evaluate answer", err)
		return
	}

	if !out.Correct {
		failure := out.Step.Failure
		if failure == "" {
			failure = msgWrong
		}
		h.sendText(chatID, failure)
		return
	}

	if out.Finished {
		if err := h.sessions.Reset(ctx, chatID); err != nil {
			h.fail(chatID, "reset session", err)
			return
		}
		h.log.Info().Int64("chat_id", chatID).Msg("game finished")
		h.sendAll(chatID, out.Step.Success)
		h.sendAll(chatID, h.script.Finale)
		return
	}

	if err := h.sessions.Save(ctx, chatID, session.Session{Step: out.Next.ID}); err != nil {
		h.fail(chatID, "save session", err)
		return
	}
	h.sendAll(chatID, out.Step.Success)
	h.sendAll(chatID, out.Next.Intro)
}

// restart drops a session whose step no longer exists in the script.
func (h *Handler) restart(ctx context.Context, chatID int64, step string) {
	h.log.Warn().Int64("chat_id", chatID).Str("step", step).Msg("session points to unknown step")
	if err := h.sessions.Reset(ctx, chatID); err != nil {
		h.fail(chatID, "reset session", err)
		return
	}
	h.sendText(chatID, msgStartFirst)
}

func (h *Handler) fail(chatID int64, op string, err error) {
	h.log.Error().Err(err).Int64("chat_id", chatID).Str("op", op).Msg("bot request failed")
	h.sendText(chatID, msgTryLater)
}
