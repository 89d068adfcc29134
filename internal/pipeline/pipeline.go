// Package pipeline orchestrates the processing of one inbound message:
// acknowledgment, content extraction, session read, completion, reply
// delivery and session write. Any failure inside a run is contained here and
// converted into a best-effort apology to the user; nothing ever propagates
// back to the webhook ingress, which has already acknowledged the event.
package pipeline

import (
	"context"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/loopera/chatrelay/internal/api/middleware"
	"github.com/loopera/chatrelay/internal/session"
	"github.com/loopera/chatrelay/internal/wa"
)

// User-visible fallback messages. Users always receive either a real reply,
// the unsupported-content notice, or the apology - never a raw error.
const (
	MsgUnsupportedContent = "Lo siento, no pude procesar ese tipo de mensaje. ¿Podrías escribirme o enviarme una nota de voz?"
	MsgApology            = "Disculpa, tuve un problema procesando tu mensaje. ¿Podrías intentar de nuevo?"
)

// Messenger delivers outbound calls to the messaging provider.
type Messenger interface {
	SendText(ctx context.Context, to, text string) error
	MarkAsRead(ctx context.Context, messageID string) error
	SendTypingIndicator(ctx context.Context, to string) error
}

// ContentExtractor normalizes an inbound message into a text utterance.
type ContentExtractor interface {
	Extract(ctx context.Context, msg *wa.InboundMessage) (text string, ok bool, err error)
}

// Completer generates a reply from an utterance plus conversation history.
type Completer interface {
	Complete(ctx context.Context, utterance string, history []session.Turn, systemPrompt string) (string, error)
}

// Pipeline processes inbound messages. All collaborators are injected at
// construction and shared across concurrent runs.
type Pipeline struct {
	messenger    Messenger
	extractor    ContentExtractor
	completer    Completer
	store        session.Store
	systemPrompt func() string
}

// New creates a Pipeline. systemPrompt is called per run so prompt hot
// reloads take effect without restarts.
func New(messenger Messenger, extractor ContentExtractor, completer Completer, store session.Store, systemPrompt func() string) *Pipeline {
	return &Pipeline{
		messenger:    messenger,
		extractor:    extractor,
		completer:    completer,
		store:        store,
		systemPrompt: systemPrompt,
	}
}

// Process runs the full message-handling state machine for one inbound
// message. It never returns an error: every failure path ends in a contained,
// best-effort message to the user.
func (p *Pipeline) Process(ctx context.Context, msg *wa.InboundMessage) {
	logger := log.WithFields(log.Fields{"user": msg.From, "type": msg.Type, "message_id": msg.MessageID})

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.WithFields(log.Fields{"panic": recovered, "stack": string(debug.Stack())}).Error("pipeline run panicked")
			p.fail(ctx, logger, msg.From, "panic")
		}
	}()

	// Read receipt and typing indicator are best-effort: attempted once,
	// failures logged and discarded.
	if err := p.messenger.MarkAsRead(ctx, msg.MessageID); err != nil {
		logger.WithError(err).Debug("mark-as-read failed")
	}
	if err := p.messenger.SendTypingIndicator(ctx, msg.From); err != nil {
		logger.WithError(err).Debug("typing indicator failed")
	}

	text, ok, err := p.extractor.Extract(ctx, msg)
	if err != nil {
		logger.WithError(err).Error("content extraction failed")
		p.fail(ctx, logger, msg.From, "extract")
		return
	}
	if !ok {
		logger.Info("unprocessable content, notifying user")
		if errSend := p.messenger.SendText(ctx, msg.From, MsgUnsupportedContent); errSend != nil {
			logger.WithError(errSend).Warn("unsupported-content notice delivery failed")
			return
		}
		middleware.RecordReply("unsupported")
		return
	}

	sess := p.store.Get(ctx, msg.From)

	reply, err := p.completer.Complete(ctx, text, sess.History, p.systemPrompt())
	if err != nil {
		logger.WithError(err).Error("completion failed")
		p.fail(ctx, logger, msg.From, "complete")
		return
	}

	if err = p.messenger.SendText(ctx, msg.From, reply); err != nil {
		logger.WithError(err).Error("reply delivery failed")
		p.fail(ctx, logger, msg.From, "send")
		return
	}

	// Session write happens after delivery so the user gets a reply even if
	// persistence subsequently fails.
	p.store.Update(ctx, msg.From, text, reply, map[string]any{"last_message_type": msg.Type})

	middleware.RecordReply("completion")
	logger.Info("message processed")
}

// fail terminates a run: one best-effort apology, counters, no propagation.
func (p *Pipeline) fail(ctx context.Context, logger *log.Entry, to, stage string) {
	middleware.RecordPipelineFailure(stage)
	if err := p.messenger.SendText(ctx, to, MsgApology); err != nil {
		logger.WithError(err).Warn("apology delivery failed")
		return
	}
	middleware.RecordReply("apology")
}
