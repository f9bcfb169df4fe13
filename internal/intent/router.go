package intent

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/transcribe"
	logx "remindbot/pkg/logx"
)

type Kind int

const (
	// Ignored: nothing to answer (no chat or empty text).
	Ignored Kind = iota
	Greeting
	Scheduled
	Acknowledged
	// Command: a bot command (/recordatorios, /cancelar) was answered.
	Command
)

func (k Kind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case Greeting:
		return "greeting"
	case Scheduled:
		return "scheduled"
	case Acknowledged:
		return "acknowledged"
	case Command:
		return "command"
	default:
		return "unknown"
	}
}

// Action is the router's decision. Reply is the single message to send back
// (empty only for Ignored).
type Action struct {
	Kind    Kind
	Reply   string
	JobID   string
	Outcome scheduler.Outcome
	Err     error
}

// Scheduler is the part of scheduler.Service the router drives.
type Scheduler interface {
	RegisterOnce(job scheduler.Job, cb scheduler.DeliverFunc) (scheduler.Outcome, error)
	RegisterDaily(job scheduler.Job, cb scheduler.DeliverFunc) (scheduler.Outcome, error)
	Location() *time.Location
	JobsFor(destination int64) []scheduler.JobInfo
	Cancel(id string) bool
}

var helpTriggers = map[string]bool{"/start": true, "/help": true, "/ayuda": true}

const (
	cmdList   = "/recordatorios"
	cmdCancel = "/cancelar"
)

type Router struct {
	sched   Scheduler
	deliver scheduler.DeliverFunc
	log     logx.Logger
	bus     eventbus.Bus
}

// NewRouter wires the router to a scheduler; deliver is what fired jobs call.
func NewRouter(sched Scheduler, deliver scheduler.DeliverFunc, log logx.Logger, bus eventbus.Bus) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{sched: sched, deliver: deliver, log: log.With(logx.String("comp", "router")), bus: bus}
}

// Handle decides what to do with a text message sent to destination at now.
func (r *Router) Handle(ctx context.Context, text string, destination int64, now time.Time) Action {
	a := r.route(ctx, text, destination, now, false)
	r.routed(destination, a, "text")
	return a
}

// HandleTranscript routes voice-derived text through the same procedure and
// prefixes the reply with the transcript.
func (r *Router) HandleTranscript(ctx context.Context, res transcribe.Result, destination int64, now time.Time) Action {
	var a Action
	switch {
	case destination == 0:
		a = Action{Kind: Ignored}
	case res.Status == transcribe.StatusEmpty:
		a = Action{Kind: Acknowledged, Reply: msgVoiceEmpty}
	case res.Status != transcribe.StatusTranscribed:
		a = Action{Kind: Acknowledged, Reply: msgVoiceFailed, Err: res.Err}
	default:
		a = r.route(ctx, res.Text, destination, now, true)
		if a.Kind != Ignored {
			a.Reply = transcriptEcho(res.Text, a.Reply)
		}
	}
	r.routed(destination, a, "voice")
	return a
}

func (r *Router) route(ctx context.Context, text string, destination int64, now time.Time, voice bool) Action {
	text = strings.TrimSpace(text)
	if destination == 0 || text == "" {
		return Action{Kind: Ignored}
	}

	if cmd, arg, ok := command(text); ok {
		switch {
		case helpTriggers[cmd] && arg == "":
			return Action{Kind: Greeting, Reply: msgGreeting}
		case cmd == cmdList:
			return r.list(destination)
		case cmd == cmdCancel:
			return r.cancel(destination, arg)
		}
	}

	t, parsed := ParseTime(text)
	m := DetectMarkers(text)
	loc := r.location()

	if m.NextDay && parsed {
		fireAt := tomorrowAt(now, t, loc)
		job := scheduler.NewOnce(destination, fireAt, payloadOnce(text))
		// An abandoned update must not leave a job behind.
		if err := ctx.Err(); err != nil {
			return r.scheduled(job, 0, err, "")
		}
		out, err := r.sched.RegisterOnce(job, r.deliver)
		return r.scheduled(job, out, err, confirmOnce(t))
	}
	if m.EveryDay && parsed {
		job := scheduler.NewDaily(destination, t.Hour, t.Minute, loc, payloadDaily(text))
		if err := ctx.Err(); err != nil {
			return r.scheduled(job, 0, err, "")
		}
		out, err := r.sched.RegisterDaily(job, r.deliver)
		return r.scheduled(job, out, err, confirmDaily(t))
	}

	if voice {
		return Action{Kind: Acknowledged, Reply: msgVoiceHint}
	}
	return Action{Kind: Acknowledged, Reply: msgHint}
}

func (r *Router) scheduled(job scheduler.Job, out scheduler.Outcome, err error, confirm string) Action {
	if err != nil {
		r.log.Warn("job registration failed", logx.String("job_id", job.ID), logx.Int64("chat_id", job.Destination), logx.Err(err))
		return Action{Kind: Acknowledged, Reply: msgScheduleFailed, JobID: job.ID, Err: err}
	}
	return Action{Kind: Scheduled, Reply: confirm, JobID: job.ID, Outcome: out}
}

func (r *Router) list(destination int64) Action {
	jobs := r.sched.JobsFor(destination)
	lines := make([]jobLine, 0, len(jobs))
	for _, j := range jobs {
		next := j.Next
		if next.IsZero() && j.Kind == scheduler.KindOnce {
			next = j.FireAt
		}
		lines = append(lines, jobLine{
			ID:    j.ID,
			Daily: j.Kind == scheduler.KindDaily,
			Next:  next,
			Text:  reminderText(j.Payload),
		})
	}
	return Action{Kind: Command, Reply: listJobs(lines, r.location())}
}

func (r *Router) cancel(destination int64, id string) Action {
	if id == "" {
		return Action{Kind: Command, Reply: msgCancelUsage}
	}
	// Only the chat's own jobs may be cancelled.
	owned := false
	for _, j := range r.sched.JobsFor(destination) {
		if j.ID == id {
			owned = true
			break
		}
	}
	if !owned || !r.sched.Cancel(id) {
		return Action{Kind: Command, Reply: notFound(id), JobID: id}
	}
	return Action{Kind: Command, Reply: cancelled(id), JobID: id}
}

func (r *Router) location() *time.Location {
	if loc := r.sched.Location(); loc != nil {
		return loc
	}
	return time.Local
}

func (r *Router) routed(destination int64, a Action, source string) {
	fields := []logx.Field{
		logx.Int64("chat_id", destination),
		logx.String("source", source),
		logx.String("action", a.Kind.String()),
	}
	if a.JobID != "" {
		fields = append(fields, logx.String("job_id", a.JobID))
	}
	if a.Err != nil && !errors.Is(a.Err, transcribe.ErrDisabled) {
		fields = append(fields, logx.Err(a.Err))
	}
	r.log.Debug("message routed", fields...)
	eventbus.Publish(r.bus, eventbus.TypeUpdateRouted, a)
}

// tomorrowAt is t on the calendar day after now, in loc. time.Date normalizes
// wall times that fall in a DST gap; the loop only matters if normalization
// ever lands at or before now.
func tomorrowAt(now time.Time, t ParsedTime, loc *time.Location) time.Time {
	local := now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day()+1, t.Hour, t.Minute, 0, 0, loc)
	for !at.After(now) {
		at = time.Date(at.Year(), at.Month(), at.Day()+1, t.Hour, t.Minute, 0, 0, loc)
	}
	return at
}

// command splits "/cmd@bot arg" into ("/cmd", "arg"). ok is false for
// ordinary text.
func command(text string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	head = strings.ToLower(head)
	if i := strings.IndexByte(head, '@'); i > 0 {
		head = head[:i]
	}
	return head, strings.TrimSpace(rest), true
}

func reminderText(payload string) string {
	for _, p := range []string{payloadOnce(""), payloadDaily("")} {
		if strings.HasPrefix(payload, p) {
			return strings.TrimPrefix(payload, p)
		}
	}
	return payload
}
