package app

import (
	"context"

	"github.com/google/uuid"

	"remindbot/internal/intent"
	"remindbot/internal/transcribe"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const voiceFilename = "voice.ogg"

func (a *App) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			a.handleUpdate(ctx, up)
		}
	}
}

// handleUpdate routes one inbound message and sends the single reply it
// produces. Voice notes are downloaded and transcribed first; the audio is
// only held for the duration of this call.
func (a *App) handleUpdate(ctx context.Context, up kit.Update) {
	m := up.Message
	if m == nil {
		return
	}
	log := a.log.With(
		logx.String("req_id", uuid.NewString()),
		logx.Int64("chat_id", m.ChatID),
		logx.String("kind", string(up.Kind)),
	)

	now := a.now()
	var act intent.Action
	if m.HasVoice() {
		act = a.router.HandleTranscript(ctx, a.transcribeVoice(ctx, log, *m.Voice), m.ChatID, now)
	} else {
		act = a.router.Handle(ctx, m.Text, m.ChatID, now)
	}
	if act.Kind == intent.Ignored || act.Reply == "" {
		return
	}
	log.Debug("reply", logx.String("action", act.Kind.String()), logx.String("job_id", act.JobID))
	// Failures are logged and published by the notifier.
	_ = a.notif.Reply(ctx, m.ChatID, act.Reply)
}

func (a *App) transcribeVoice(ctx context.Context, log logx.Logger, ref kit.VoiceRef) transcribe.Result {
	if !a.voice {
		return transcribe.Failed(transcribe.ErrDisabled)
	}
	audio, err := a.adapter.FetchVoice(ctx, ref)
	if err != nil {
		log.Warn("voice download failed", logx.String("file_id", ref.FileID), logx.Err(err))
		return transcribe.Failed(err)
	}
	res := a.tr.Transcribe(ctx, audio, voiceFilename)
	log.Debug("voice transcribed", logx.Int("bytes", len(audio)), logx.String("status", res.Status.String()))
	return res
}
