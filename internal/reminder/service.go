package reminder

import (
	"fmt"
	"time"

	"notificationbot/internal/eventbus"
	"notificationbot/internal/transport"
)

// Service is the API the command surface talks to. It adds interval parsing
// and readiness checks on top of the registry.
type Service struct {
	reg    *Registry
	parser *Parser
	bus    eventbus.Bus
}

func NewService(reg *Registry, parser *Parser, bus eventbus.Bus) *Service {
	if parser == nil {
		parser = NewParser(reg.Tick(), nil)
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{reg: reg, parser: parser, bus: bus}
}

func (s *Service) Parser() *Parser { return s.parser }

// Now reads the registry clock.
func (s *Service) Now() time.Time { return s.reg.Clock().Now() }

// CreateRequest carries optional initial fields. Magnitude and Unit go
// through the interval parser; an empty Magnitude leaves the interval unset.
type CreateRequest struct {
	Text      string
	Link      string
	Magnitude string
	Unit      string
}

func (s *Service) Create(key string, dest transport.ChatTarget, req CreateRequest) (*Reminder, error) {
	opts := CreateOptions{Text: req.Text, Link: req.Link}
	if req.Magnitude != "" {
		iv, err := s.parser.Parse(req.Magnitude, req.Unit)
		if err != nil {
			return nil, err
		}
		opts.Interval = iv
	}
	r, err := s.reg.Create(key, dest, opts)
	if err != nil {
		return nil, err
	}
	s.changed(key, "create")
	return r, nil
}

func (s *Service) Delete(key string) error {
	if err := s.reg.Delete(key); err != nil {
		return err
	}
	s.changed(key, "delete")
	return nil
}

func (s *Service) SetText(key, text string) error {
	r, err := s.reg.Lookup(key)
	if err != nil {
		return err
	}
	r.SetText(text)
	s.changed(key, "text")
	return nil
}

func (s *Service) SetLink(key, link string) error {
	r, err := s.reg.Lookup(key)
	if err != nil {
		return err
	}
	r.SetLink(link)
	s.changed(key, "link")
	return nil
}

// SetTextAndLink sets both fields. They are written one after the other, so
// a concurrent fire may see the new text with the old link.
func (s *Service) SetTextAndLink(key, text, link string) error {
	r, err := s.reg.Lookup(key)
	if err != nil {
		return err
	}
	r.SetText(text)
	r.SetLink(link)
	s.changed(key, "set")
	return nil
}

// SetInterval parses and applies a new period. On a parse error the old
// interval stays.
func (s *Service) SetInterval(key, magnitude, unit string) (Interval, error) {
	r, err := s.reg.Lookup(key)
	if err != nil {
		return Interval{}, err
	}
	iv, err := s.parser.Parse(magnitude, unit)
	if err != nil {
		return Interval{}, err
	}
	r.SetInterval(iv)
	s.changed(key, "interval")
	return iv, nil
}

// Start marks the reminder running. It refuses with ErrNotReady while the
// text or a valid interval is missing.
func (s *Service) Start(key string) error {
	r, err := s.reg.Lookup(key)
	if err != nil {
		return err
	}
	if r.Text() == "" {
		return fmt.Errorf("%w: %q has no text", ErrNotReady, key)
	}
	switch iv := r.Interval(); {
	case iv.IsZero():
		return fmt.Errorf("%w: %q has no interval", ErrNotReady, key)
	case iv.Duration <= s.reg.Tick():
		return fmt.Errorf("%w: %q interval %s must be longer than the tick (%s)", ErrNotReady, key, iv.Duration, s.reg.Tick())
	}
	r.SetRunning(true)
	s.changed(key, "start")
	return nil
}

func (s *Service) Stop(key string) error {
	r, err := s.reg.Lookup(key)
	if err != nil {
		return err
	}
	r.SetRunning(false)
	s.changed(key, "stop")
	return nil
}

// Rebind points the reminder at a new destination.
func (s *Service) Rebind(key string, dest transport.ChatTarget) error {
	r, err := s.reg.Lookup(key)
	if err != nil {
		return err
	}
	r.SetDestination(dest)
	s.changed(key, "rebind")
	return nil
}

// Status is a point-in-time view of one reminder. Fields are read one at a
// time, so the view is not atomic across fields.
type Status struct {
	Key         string               `json:"key"`
	Text        string               `json:"text,omitempty"`
	Link        string               `json:"link,omitempty"`
	Interval    time.Duration        `json:"interval"`
	IntervalStr string               `json:"interval_text"`
	UnitLabel   string               `json:"unit,omitempty"`
	Running     bool                 `json:"running"`
	LastFired   time.Time            `json:"last_fired,omitzero"`
	NextDue     time.Time            `json:"next_due,omitzero"`
	Destination transport.ChatTarget `json:"destination"`
}

func (s *Service) Status(key string) (Status, error) {
	r, err := s.reg.Lookup(key)
	if err != nil {
		return Status{}, err
	}
	return statusOf(r), nil
}

// List returns keys in creation order.
func (s *Service) List() []string { return s.reg.Keys() }

func (s *Service) Statuses() []Status {
	snap := s.reg.Snapshot()
	out := make([]Status, 0, len(snap))
	for _, r := range snap {
		out = append(out, statusOf(r))
	}
	return out
}

func statusOf(r *Reminder) Status {
	iv := r.Interval()
	return Status{
		Key:         r.Key(),
		Text:        r.Text(),
		Link:        r.Link(),
		Interval:    iv.Duration,
		IntervalStr: iv.String(),
		UnitLabel:   iv.Unit,
		Running:     r.Running(),
		LastFired:   r.LastFired(),
		NextDue:     r.NextDue(),
		Destination: r.Destination(),
	}
}

// ChangeEvent is the Data payload of reminder.changed.
type ChangeEvent struct {
	Key string `json:"key"`
	Op  string `json:"op"`
}

func (s *Service) changed(key, op string) {
	s.bus.Publish(eventbus.Event{
		Type: eventbus.ReminderChanged,
		Time: s.reg.Clock().Now(),
		Data: ChangeEvent{Key: key, Op: op},
	})
}
