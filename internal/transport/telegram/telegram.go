package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "sendbot/pkg/logx"

	"sendbot/internal/message"
	"sendbot/internal/transport"
)

type Config struct {
	Token string
	// RatePerSec caps outbound sends (Telegram throttles aggressively).
	RatePerSec int
}

// Adapter delivers scheduled messages over Telegram in send-only mode.
// RecipientID is the target chat id in decimal form.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter
	ready   atomic.Bool
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	// No poller: this adapter never consumes updates.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	// NewBot has already passed getMe; the account is usable.
	a.ready.Store(true)
	return a, nil
}

func (a *Adapter) Ready() bool { return a.ready.Load() }

func (a *Adapter) Send(ctx context.Context, recipientID, content string, attachments []message.Attachment) (transport.DeliveryReceipt, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipientID), 10, 64)
	if err != nil {
		return transport.DeliveryReceipt{}, fmt.Errorf("recipient %q is not a chat id: %w", recipientID, err)
	}
	chat := &tele.Chat{ID: chatID}

	if err := a.limiter.Wait(ctx); err != nil {
		return transport.DeliveryReceipt{}, err
	}

	var sent *tele.Message
	if content != "" {
		sent, err = a.bot.Send(chat, content)
		if err != nil {
			a.noteSendErr(err)
			return transport.DeliveryReceipt{}, err
		}
	}

	for _, att := range attachments {
		if err := a.limiter.Wait(ctx); err != nil {
			return transport.DeliveryReceipt{}, err
		}
		m, err := a.bot.Send(chat, mediaFor(att))
		if err != nil {
			a.noteSendErr(err)
			return transport.DeliveryReceipt{}, err
		}
		if sent == nil {
			sent = m
		}
	}

	if sent == nil {
		return transport.DeliveryReceipt{}, errors.New("nothing to send: empty content and no attachments")
	}
	return transport.DeliveryReceipt{
		RemoteID:  strconv.Itoa(sent.ID),
		Delivered: time.Now(),
	}, nil
}

func mediaFor(att message.Attachment) tele.Sendable {
	f := tele.FromURL(att.URI)
	if !strings.Contains(att.URI, "://") {
		f = tele.FromDisk(att.URI)
	}
	switch strings.ToLower(strings.TrimSpace(att.Kind)) {
	case "photo", "image":
		return &tele.Photo{File: f, Caption: att.Caption}
	case "video":
		return &tele.Video{File: f, Caption: att.Caption}
	case "audio":
		return &tele.Audio{File: f, Caption: att.Caption}
	default:
		return &tele.Document{File: f, Caption: att.Caption}
	}
}

// noteSendErr flips readiness off on auth-level failures so the scheduler's
// ready-wait can hold sends instead of burning occurrences.
func (a *Adapter) noteSendErr(err error) {
	if errors.Is(err, tele.ErrUnauthorized) {
		if a.ready.CompareAndSwap(true, false) {
			a.log.Error("telegram account no longer authorized", logx.Err(err))
		}
	}
}
