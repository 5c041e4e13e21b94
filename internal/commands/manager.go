package commands

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "notificationbot/internal/runtime/supervisor"
	kit "notificationbot/internal/transport"
	logx "notificationbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessOwnerOnly is enforced only when owners are configured.
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "list" or "audit recent".
	Route       string
	Aliases     []string // root-level shortcuts
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // 0 means defaultTimeout
	Handle      HandlerFunc
}

type Request struct {
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Path         []string // matched route tokens
	Command      string
	Usage        string
	Args         []string // positionals after flag parsing

	// RawArgs are the tokens after the route, before flag parsing. Free
	// text arguments read from here so "--" inside a message survives.
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

const (
	defaultTimeout = 30 * time.Second
	jobQueueCap    = 256
	menuTimeout    = 5 * time.Second
)

var ErrNoMenuSupport = errors.New("adapter cannot publish a command menu")

// CommandManager routes chat updates to commands on a bounded worker pool.
type CommandManager struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode
	menu  []kit.BotCommand

	owners []int64

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		log:     log.With(logx.String("comp", "commands")),
		adapter: adapter,
		owners:  slices.Clone(owners),
		jobs:    make(chan func(), jobQueueCap),
	}
}

// Supervisor returns the worker pool supervisor, or nil when not running.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue reports false when the queue is full or already closed.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.owners)
}

// SetRegistry installs the command set. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	help := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(slices.Clone(cmds), help)

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		// Multi-token routes get a joined alias so the Telegram menu
		// entry ("audit_recent") resolves. Single tokens must not be
		// aliased to themselves or subcommand traversal would stop there.
		if menu, ok := menuName(route); ok && (len(route) > 1 || menu != route[0]) {
			if _, exists := alias[menu]; !exists {
				alias[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			alias[a] = leaf
		}
	}
	menu := buildMenu(root)

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.menu = menu
	m.mu.Unlock()
}

// MenuCommands returns the Telegram menu derived from the registry.
func (m *CommandManager) MenuCommands() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.menu)
}

// UpdateMenu publishes MenuCommands when the adapter supports it.
func (m *CommandManager) UpdateMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return ErrNoMenuSupport
	}
	ctx, cancel := context.WithTimeout(ctx, menuTimeout)
	defer cancel()
	return up.UpdateMenuCommands(ctx, m.MenuCommands())
}

// DispatchLoop consumes updates until ctx ends or updates is closed, then
// drains the worker pool briefly. It runs once per manager.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)

	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := range workers {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		// Not running before close, so a late enqueue degrades to "busy".
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.routeMessage(ctx, up.Message)
			}
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeMessage(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	root := m.root
	aliases := m.alias
	m.mu.RUnlock()

	if leaf, ok := aliases[word]; ok && leaf.cmd != nil {
		m.enqueueCommand(ctx, msg, *leaf.cmd, splitRoute(leaf.cmd.Route), args)
		return
	}

	cur, ok := root.child(word)
	if !ok {
		_, _ = m.adapter.SendText(ctx, chat, "unknown command, try /help", nil)
		return
	}
	path := []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		next, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = next
		path = append(path, args[0])
		args = args[1:]
	}

	if cur.cmd == nil {
		_, _ = m.adapter.SendText(ctx, chat, m.helpText(path), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		return
	}
	m.enqueueCommand(ctx, msg, *cur.cmd, path, args)
}

func (m *CommandManager) enqueueCommand(ctx context.Context, msg *kit.Message, cmd Command, path, raw []string) {
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	owners := m.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && len(owners) > 0 && !slices.Contains(owners, msg.FromID) {
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	pos, flags, bools := parseFlags(raw)
	rid := newReqID()
	req := &Request{
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Path:         path,
		Command:      cmd.Route,
		Usage:        cmd.Usage,
		Args:         pos,
		RawArgs:      raw,
		Flags:        flags,
		BoolFlags:    bools,
		ReqID:        rid,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}
