// Package session keeps per-chat conversational state for the bot.
// It is separate from the license binding: losing a session only restarts
// the dialogue, never the access check.
package session

import (
	"context"
	"errors"
	"time"
)

const DefaultTTL = 24 * time.Hour

var ErrSession = errors.New("session store error")

// Session is the dialogue position of one chat.
type Session struct {
	Step      string `json:"step"`
	HelpCount int    `json:"help_count"`
}

type Store interface {
	// Get returns false when the chat has no live session.
	Get(ctx context.Context, chatID int64) (Session, bool, error)
	Save(ctx context.Context, chatID int64, s Session) error
	Reset(ctx context.Context, chatID int64) error
}
