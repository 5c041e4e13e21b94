package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"notificationbot/internal/reminder"
	"notificationbot/internal/storage"
	logx "notificationbot/pkg/logx"
)

// Deps are what the reminder commands act on. Audit may be nil.
type Deps struct {
	Reminders *reminder.Service
	Audit     storage.Store
}

var errUsage = errors.New("usage")

const (
	defaultAuditLines = 10
	listTextWidth     = 40
)

type handlers struct {
	svc   *reminder.Service
	store storage.Store
}

// handlerFn returns the key it acted on (for the audit trail) and the reply.
type handlerFn func(ctx context.Context, req *Request) (key, reply string, err error)

// ReminderCommands builds the chat command set for reminders. Mutating
// commands are owner-only and leave an audit entry.
func ReminderCommands(d Deps) []Command {
	h := &handlers{svc: d.Reminders, store: d.Audit}
	cmds := []Command{
		{Route: "create", Aliases: []string{"new"}, Description: "create a stopped reminder in this chat",
			Usage:  "/create <key> [magnitude [unit]] [--text T] [--link URL] [--every N --unit U]",
			Access: AccessOwnerOnly, Handle: h.mutating("create", h.create)},
		{Route: "delete", Aliases: []string{"rm"}, Description: "delete a reminder",
			Usage: "/delete <key>", Access: AccessOwnerOnly, Handle: h.mutating("delete", h.delete)},
		{Route: "text", Description: "set the reminder text",
			Usage: "/text <key> <text...>", Access: AccessOwnerOnly, Handle: h.mutating("text", h.text)},
		{Route: "link", Description: "set the link sent under the text",
			Usage: "/link <key> <url>", Access: AccessOwnerOnly, Handle: h.mutating("link", h.link)},
		{Route: "set", Description: "set text and link together",
			Usage: `/set <key> "Some kind of text" https://example.com`, Access: AccessOwnerOnly, Handle: h.mutating("set", h.set)},
		{Route: "interval", Aliases: []string{"every"}, Description: "set how often the reminder fires",
			Usage: "/interval <key> <magnitude|preset|@every 1h30m> [unit]", Access: AccessOwnerOnly, Handle: h.mutating("interval", h.interval)},
		{Route: "start", Description: "start sending a reminder",
			Usage: "/start <key>", Access: AccessOwnerOnly, Handle: h.mutating("start", h.start)},
		{Route: "stop", Description: "pause a reminder",
			Usage: "/stop <key>", Access: AccessOwnerOnly, Handle: h.mutating("stop", h.stop)},
		{Route: "here", Description: "send a reminder to this chat from now on",
			Usage: "/here <key>", Access: AccessOwnerOnly, Handle: h.mutating("rebind", h.here)},
		{Route: "status", Description: "show one reminder",
			Usage: "/status <key>", Handle: h.readOnly(h.status)},
		{Route: "list", Aliases: []string{"ls"}, Description: "list reminders",
			Usage: "/list", Handle: h.readOnly(h.list)},
		{Route: "audit", Description: "show recent actions and deliveries",
			Usage: "/audit [limit]", Access: AccessOwnerOnly, Handle: h.readOnly(h.auditLog)},
	}
	return cmds
}

func (h *handlers) mutating(action string, fn handlerFn) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		key, reply, err := fn(ctx, req)
		if errors.Is(err, errUsage) {
			return req.Reply(ctx, usageFor(req))
		}
		h.audit(ctx, req, action, key, err)
		if err != nil {
			return req.Reply(ctx, describeErr(err))
		}
		return req.Reply(ctx, reply)
	}
}

func (h *handlers) readOnly(fn handlerFn) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		_, reply, err := fn(ctx, req)
		switch {
		case errors.Is(err, errUsage):
			return req.Reply(ctx, usageFor(req))
		case err != nil:
			return req.Reply(ctx, describeErr(err))
		}
		return req.Reply(ctx, reply)
	}
}

func usageFor(req *Request) string {
	if req.Usage == "" {
		return "usage: see /help " + req.Command
	}
	return "usage: " + req.Usage
}

func (h *handlers) audit(ctx context.Context, req *Request, action, key string, err error) {
	if h.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:            h.svc.Now(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Action:        action,
		Key:           key,
		OK:            err == nil,
		RequestID:     req.ReqID,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := h.store.AppendAudit(ctx, e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.Err(aerr))
	}
}

// intervalArgs joins "@every" with its duration token, which the
// tokenizer splits apart.
func intervalArgs(args []string) (magnitude, unit string) {
	switch len(args) {
	case 0:
		return "", ""
	case 1:
		return args[0], ""
	}
	if strings.EqualFold(args[0], "@every") {
		return "@every " + args[1], ""
	}
	return args[0], args[1]
}

func (h *handlers) create(_ context.Context, req *Request) (string, string, error) {
	if len(req.Args) < 1 {
		return "", "", errUsage
	}
	key := req.Args[0]
	cr := reminder.CreateRequest{
		Text:      req.Flags["text"],
		Link:      req.Flags["link"],
		Magnitude: req.Flags["every"],
		Unit:      req.Flags["unit"],
	}
	if cr.Magnitude == "" {
		cr.Magnitude, cr.Unit = intervalArgs(req.Args[1:])
	}
	r, err := h.svc.Create(key, req.Chat, cr)
	if err != nil {
		return key, "", err
	}
	reply := fmt.Sprintf("created %q", key)
	if iv := r.Interval(); !iv.IsZero() {
		reply += " (" + iv.String() + ")"
	}
	return key, reply + ". Use /start " + key + " when it is ready.", nil
}

func (h *handlers) delete(_ context.Context, req *Request) (string, string, error) {
	if len(req.Args) != 1 {
		return "", "", errUsage
	}
	key := req.Args[0]
	return key, fmt.Sprintf("deleted %q", key), h.svc.Delete(key)
}

func (h *handlers) text(_ context.Context, req *Request) (string, string, error) {
	if len(req.RawArgs) < 2 {
		return "", "", errUsage
	}
	key, text := req.RawArgs[0], strings.Join(req.RawArgs[1:], " ")
	return key, "set: " + text, h.svc.SetText(key, text)
}

func (h *handlers) link(_ context.Context, req *Request) (string, string, error) {
	if len(req.RawArgs) != 2 {
		return "", "", errUsage
	}
	key, link := req.RawArgs[0], req.RawArgs[1]
	return key, "set: " + link, h.svc.SetLink(key, link)
}

func (h *handlers) set(_ context.Context, req *Request) (string, string, error) {
	if len(req.RawArgs) != 3 {
		return "", "", errUsage
	}
	key, text, link := req.RawArgs[0], req.RawArgs[1], req.RawArgs[2]
	return key, fmt.Sprintf("set: %s and %s", text, link), h.svc.SetTextAndLink(key, text, link)
}

func (h *handlers) interval(_ context.Context, req *Request) (string, string, error) {
	if len(req.Args) < 2 {
		return "", "", errUsage
	}
	key := req.Args[0]
	mag, unit := intervalArgs(req.Args[1:])
	iv, err := h.svc.SetInterval(key, mag, unit)
	if err != nil {
		return key, "", err
	}
	return key, fmt.Sprintf("interval of %q set to %s", key, iv), nil
}

func (h *handlers) start(_ context.Context, req *Request) (string, string, error) {
	if len(req.Args) != 1 {
		return "", "", errUsage
	}
	key := req.Args[0]
	if err := h.svc.Start(key); err != nil {
		return key, "", err
	}
	st, err := h.svc.Status(key)
	if err != nil {
		return key, "", err
	}
	return key, fmt.Sprintf("started %q (%s)", key, st.IntervalStr), nil
}

func (h *handlers) stop(_ context.Context, req *Request) (string, string, error) {
	if len(req.Args) != 1 {
		return "", "", errUsage
	}
	key := req.Args[0]
	return key, fmt.Sprintf("stopped %q", key), h.svc.Stop(key)
}

func (h *handlers) here(_ context.Context, req *Request) (string, string, error) {
	if len(req.Args) != 1 {
		return "", "", errUsage
	}
	key := req.Args[0]
	return key, fmt.Sprintf("%q will be sent to this chat", key), h.svc.Rebind(key, req.Chat)
}

func (h *handlers) status(_ context.Context, req *Request) (string, string, error) {
	if len(req.Args) != 1 {
		return "", "", errUsage
	}
	key := req.Args[0]
	st, err := h.svc.Status(key)
	if err != nil {
		return key, "", err
	}
	return key, formatStatus(st, h.svc.Now()), nil
}

func formatStatus(st reminder.Status, now time.Time) string {
	state := "stopped"
	if st.Running {
		state = "running"
	}
	lines := []string{st.Key + ": " + state}
	lines = append(lines, "text: "+orDash(st.Text))
	lines = append(lines, "link: "+orDash(st.Link))
	lines = append(lines, "interval: "+st.IntervalStr)
	if !st.LastFired.IsZero() {
		lines = append(lines, "last sent: "+humanize.RelTime(st.LastFired, now, "ago", "from now"))
	} else {
		lines = append(lines, "last sent: never")
	}
	if st.Running && !st.NextDue.IsZero() {
		lines = append(lines, "next: "+humanize.RelTime(st.NextDue, now, "ago", "from now"))
	}
	dest := "chat: " + strconv.FormatInt(st.Destination.ChatID, 10)
	if st.Destination.ThreadID != 0 {
		dest += " (thread " + strconv.Itoa(st.Destination.ThreadID) + ")"
	}
	return strings.Join(append(lines, dest), "\n")
}

func (h *handlers) list(_ context.Context, _ *Request) (string, string, error) {
	all := h.svc.Statuses()
	if len(all) == 0 {
		return "", "no reminders yet. Create one with /create <key>", nil
	}
	lines := make([]string, 0, len(all)+1)
	lines = append(lines, fmt.Sprintf("%d reminder(s):", len(all)))
	for _, st := range all {
		state := "stopped"
		if st.Running {
			state = "running"
		}
		line := fmt.Sprintf("• %s [%s] %s", st.Key, state, st.IntervalStr)
		if st.Text != "" {
			line += " - " + clip(st.Text, listTextWidth)
		}
		lines = append(lines, line)
	}
	return "", strings.Join(lines, "\n"), nil
}

func (h *handlers) auditLog(ctx context.Context, req *Request) (string, string, error) {
	if h.store == nil {
		return "", "audit log is disabled (no storage configured)", nil
	}
	limit := defaultAuditLines
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			return "", "", errUsage
		}
		limit = n
	}
	entries, err := h.store.RecentAudit(ctx, limit)
	if err != nil {
		return "", "", err
	}
	if len(entries) == 0 {
		return "", "audit log is empty", nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := e.At.UTC().Format("2006-01-02 15:04") + " " + e.Action
		if e.Key != "" {
			line += " " + e.Key
		}
		if e.OK {
			line += " ok"
		} else {
			line += " FAILED"
		}
		switch {
		case e.ActorUsername != "":
			line += " by @" + e.ActorUsername
		case e.ActorID != 0:
			line += " by " + strconv.FormatInt(e.ActorID, 10)
		}
		if e.Error != "" {
			line += ": " + clip(e.Error, 80)
		}
		lines = append(lines, line)
	}
	return "", strings.Join(lines, "\n"), nil
}

// describeErr turns core errors into chat replies.
func describeErr(err error) string {
	var pe *reminder.ParseError
	switch {
	case errors.As(err, &pe):
		switch pe.Kind {
		case reminder.NotANumber:
			return fmt.Sprintf("%q is not a number or a known preset", pe.Input)
		case reminder.TooSmall:
			if pe.Min != nil {
				return fmt.Sprintf("interval %q is too short, it must be longer than %s", pe.Input, pe.Min)
			}
			return fmt.Sprintf("interval %q is too short", pe.Input)
		default:
			return fmt.Sprintf("interval %q is too large", pe.Input)
		}
	case errors.Is(err, reminder.ErrNotFound):
		return "no such reminder, see /list"
	case errors.Is(err, reminder.ErrDuplicateKey):
		return "a reminder with that name already exists"
	case errors.Is(err, reminder.ErrInvalidKey):
		return "reminder names are 1-64 characters without spaces"
	case errors.Is(err, reminder.ErrNotReady):
		return "cannot start yet: " + strings.TrimPrefix(err.Error(), reminder.ErrNotReady.Error()+": ")
	default:
		return "error: " + err.Error()
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
