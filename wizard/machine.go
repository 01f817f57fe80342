// Package wizard runs the per-user order creation conversation: initial
// form, deadline picker, role selection, level, review and publish.
//
// Every entry point takes the acting user's lock, loads the session and
// checks the step before applying anything, so events for the same user are
// applied in arrival order and stale or duplicate events are rejected.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"orderbot/auth"
	"orderbot/order"
	"orderbot/session"
	"orderbot/skill"
	"orderbot/ui"
)

const DefaultConfirmTimeout = 5 * time.Minute

// Publisher persists and announces finished drafts.
type Publisher interface {
	NewID() string
	Publish(ctx context.Context, o order.Order) (order.Order, error)
}

// RoleDirectory lists the platform roles that can be required by an order.
type RoleDirectory interface {
	Roles(ctx context.Context) ([]order.RoleRef, error)
}

// PreviewExpirer rewrites an expired preview in place.
type PreviewExpirer interface {
	ExpirePreview(ctx context.Context, origin any, msg ui.Message) error
}

type Machine struct {
	sessions       session.Store[*Session]
	dates          session.Store[DateSelection]
	locks          *session.KeyedMutex
	publisher      Publisher
	roles          RoleDirectory
	classifier     skill.Classifier
	expirer        PreviewExpirer
	log            *slog.Logger
	confirmTimeout time.Duration
	now            func() time.Time
	afterFunc      func(d time.Duration, f func()) (stop func() bool)
}

func New(publisher Publisher, roles RoleDirectory, classifier skill.Classifier, expirer PreviewExpirer, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		sessions:       session.NewMemory[*Session](),
		dates:          session.NewMemory[DateSelection](),
		locks:          session.NewKeyedMutex(),
		publisher:      publisher,
		roles:          roles,
		classifier:     classifier,
		expirer:        expirer,
		log:            log,
		confirmTimeout: DefaultConfirmTimeout,
		now:            time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

func (m *Machine) WithConfirmTimeout(d time.Duration) *Machine {
	if d > 0 {
		m.confirmTimeout = d
	}
	return m
}

func (m *Machine) WithTimer(afterFunc func(d time.Duration, f func()) func() bool) *Machine {
	m.afterFunc = afterFunc
	return m
}

// WithStores swaps the session and date selection stores.
func (m *Machine) WithStores(sessions session.Store[*Session], dates session.Store[DateSelection]) *Machine {
	m.sessions = sessions
	m.dates = dates
	return m
}

// Active reports whether userID has a session in progress.
func (m *Machine) Active(userID string) bool {
	return m.sessions.Has(userID)
}

// Current returns a copy of userID's session.
func (m *Machine) Current(userID string) (Session, bool) {
	s, ok := m.sessions.Get(userID)
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (m *Machine) today() time.Time {
	y, mo, d := m.now().UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// load returns the caller's session if it is in one of steps.
func (m *Machine) load(p auth.Principal, steps ...Step) (*Session, error) {
	s, ok := m.sessions.Get(p.UserID)
	if !ok {
		return nil, ErrNoSession
	}
	if p.ChannelID != "" && s.ChannelID != "" && p.ChannelID != s.ChannelID {
		return nil, ErrWrongChannel
	}
	if len(steps) > 0 && !slices.Contains(steps, s.Step) {
		return nil, fmt.Errorf("%w: session is at %s", ErrStaleStep, s.Step)
	}
	return s, nil
}

func (m *Machine) advance(s *Session, next Step) {
	s.Step = next
	s.UpdatedAt = m.now()
}

// teardown drops every trace of the user's session. Safe on missing state.
func (m *Machine) teardown(userID string) {
	if s, ok := m.sessions.Get(userID); ok && s.confirm != nil {
		s.confirm.resolve()
	}
	m.sessions.Delete(userID)
	m.dates.Delete(userID)
}

// Start opens the initial form for an administrator without a session.
func (m *Machine) Start(ctx context.Context, p auth.Principal) (ui.Reply, error) {
	if !p.IsAdmin {
		return ui.Reply{}, ErrNotAdmin
	}
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	now := m.now()
	s := &Session{
		UserID:    p.UserID,
		ChannelID: p.ChannelID,
		Step:      StepInitial,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := m.sessions.Set(p.UserID, s); err != nil {
		if errors.Is(err, session.ErrExists) {
			return ui.Reply{}, ErrSessionExists
		}
		return ui.Reply{}, err
	}
	m.log.Info("order wizard started", "user_id", p.UserID, "channel_id", p.ChannelID)
	return ui.Open(initialForm(Draft{})), nil
}

// Reopen shows the initial form again with the last typed values.
func (m *Machine) Reopen(ctx context.Context, p auth.Principal) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepInitial)
	if err != nil {
		return ui.Reply{}, err
	}
	return ui.Open(initialForm(s.Retry)), nil
}

// SubmitInitial validates client, compensation and description and moves
// on to the deadline picker.
func (m *Machine) SubmitInitial(ctx context.Context, p auth.Principal, values map[string]string) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepInitial)
	if err != nil {
		return ui.Reply{}, err
	}
	d, err := validateCore(values)
	if err != nil {
		s.Retry = Draft{
			ClientName:   values[FieldClient],
			Compensation: values[FieldCompensation],
			Description:  values[FieldDescription],
		}
		return ui.Reply{}, err
	}

	s.Draft.ClientName = d.ClientName
	s.Draft.Compensation = d.Compensation
	s.Draft.Description = d.Description
	s.Retry = Draft{}
	m.dates.Put(p.UserID, DateSelection{})
	m.advance(s, StepDate)
	return ui.Show(datePrompt(DateSelection{}, "", m.today())), nil
}

// Cancel drops the session at any step.
func (m *Machine) Cancel(ctx context.Context, p auth.Principal) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, ok := m.sessions.Get(p.UserID)
	if !ok {
		return ui.Reply{}, ErrNoSession
	}
	if s.confirm != nil && !s.confirm.resolve() {
		return ui.Reply{}, ErrExpired
	}
	m.teardown(p.UserID)
	m.log.Info("order wizard cancelled", "user_id", p.UserID, "step", s.Step)
	return ui.Replace(ui.Message{Content: "Order creation cancelled. Nothing was saved.", Ephemeral: true}), nil
}

// Abort tears down userID's session without a reply. Used after failures
// so the user can start over.
func (m *Machine) Abort(userID string) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	if m.sessions.Has(userID) {
		m.log.Warn("order wizard aborted", "user_id", userID)
	}
	m.teardown(userID)
}

// PickLevel stores the difficulty. Level 6 needs the elevated marker and is
// otherwise lowered to 5 with a notice. The level menu stays live until the
// review form is submitted, so picking again reopens the form.
func (m *Machine) PickLevel(ctx context.Context, p auth.Principal, value string) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepLevel, StepPreview)
	if err != nil {
		return ui.Reply{}, err
	}
	level, note, err := m.chooseLevel(p, value)
	if err != nil {
		return ui.Reply{}, err
	}
	s.Draft.Level = level
	m.advance(s, StepPreview)
	if note != "" {
		return ui.Replace(reviewPrompt(note)), nil
	}
	return ui.Open(previewForm(m.reviewDraft(s))), nil
}

// reviewDraft is the draft the review form is prefilled from: the last
// rejected input when there is one.
func (m *Machine) reviewDraft(s *Session) Draft {
	if s.Retry.ClientName != "" || s.Retry.Compensation != "" || s.Retry.Description != "" {
		return s.Retry
	}
	return s.Draft
}

func (m *Machine) chooseLevel(p auth.Principal, value string) (int, string, error) {
	level, err := parseInt("level", strings.TrimSpace(value))
	if err != nil {
		return 0, "", err
	}
	if level < 1 || level > 6 {
		return 0, "", &ValidationError{Field: "level", Reason: "level must be between 1 and 6"}
	}
	if level == 6 && !p.IsElevated {
		return 5, clampNotice, nil
	}
	return level, "", nil
}

// OpenPreview shows the review form prefilled from the draft.
func (m *Machine) OpenPreview(ctx context.Context, p auth.Principal) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepPreview)
	if err != nil {
		return ui.Reply{}, err
	}
	return ui.Open(previewForm(m.reviewDraft(s))), nil
}

// SubmitPreview applies the final edits, assigns the order id and arms the
// confirmation timer. origin identifies the rendered preview.
func (m *Machine) SubmitPreview(ctx context.Context, p auth.Principal, values map[string]string, origin any) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepPreview)
	if err != nil {
		return ui.Reply{}, err
	}
	core, tags, names, err := validatePreview(values)
	if err != nil {
		s.Retry = retryDraft(s.Draft, values)
		return ui.Reply{}, err
	}
	roles, err := m.resolveRoles(ctx, names)
	if err != nil {
		return ui.Reply{}, err
	}

	note := ""
	level := s.Draft.Level
	if level == 6 && !p.IsElevated {
		level, note = 5, clampNotice
	}

	s.Draft.ClientName = core.ClientName
	s.Draft.Compensation = core.Compensation
	s.Draft.Description = core.Description
	s.Draft.Tags = tags
	s.Draft.RequiredRoles = roles
	s.Draft.Level = level
	s.Retry = Draft{}
	s.OrderID = m.publisher.NewID()
	s.Origin = origin
	m.arm(s)
	m.advance(s, StepConfirm)

	return ui.Show(previewMessage(m.toOrder(s), note, m.confirmTimeout)), nil
}

func validatePreview(values map[string]string) (Draft, []string, []string, error) {
	core, err := validateCore(values)
	if err != nil {
		return Draft{}, nil, nil, err
	}
	tags, err := splitList(FieldTags, values[FieldTags], maxTagsLen, maxTags)
	if err != nil {
		return Draft{}, nil, nil, err
	}
	names, err := splitList(FieldRoles, values[FieldRoles], maxRolesLen, 0)
	if err != nil {
		return Draft{}, nil, nil, err
	}
	return core, tags, names, nil
}

// retryDraft keeps rejected review input as typed so the reopened form
// shows it again.
func retryDraft(d Draft, values map[string]string) Draft {
	d.ClientName = values[FieldClient]
	d.Compensation = values[FieldCompensation]
	d.Description = values[FieldDescription]
	d.Tags = nil
	for _, t := range strings.Split(values[FieldTags], ",") {
		if t = strings.TrimSpace(t); t != "" {
			d.Tags = append(d.Tags, t)
		}
	}
	d.RequiredRoles = nil
	for _, n := range strings.Split(values[FieldRoles], ",") {
		if n = strings.TrimSpace(n); n != "" {
			d.RequiredRoles = append(d.RequiredRoles, order.RoleRef{Name: n})
		}
	}
	return d
}

// resolveRoles maps typed role names onto directory roles by name. Names
// without a directory match are kept as plain skill tags.
func (m *Machine) resolveRoles(ctx context.Context, names []string) ([]order.RoleRef, error) {
	if len(names) == 0 {
		return nil, nil
	}
	all, err := m.roles.Roles(ctx)
	if err != nil {
		return nil, fmt.Errorf("wizard: list roles: %w", err)
	}
	out := make([]order.RoleRef, 0, len(names))
	for _, n := range names {
		ref := order.RoleRef{Name: n}
		for _, r := range all {
			if strings.EqualFold(r.Name, n) {
				ref = r
				break
			}
		}
		out = append(out, ref)
	}
	return out, nil
}

func (m *Machine) arm(s *Session) {
	c := &confirmation{}
	s.confirm = c
	userID := s.UserID
	c.stop = m.afterFunc(m.confirmTimeout, func() { m.expire(userID, c) })
}

// expire runs when the confirmation timer fires.
func (m *Machine) expire(userID string, c *confirmation) {
	unlock := m.locks.Lock(userID)
	s, ok := m.sessions.Get(userID)
	if !ok || s.confirm != c || !c.resolve() {
		unlock()
		return
	}
	origin := s.Origin
	m.teardown(userID)
	unlock()

	m.log.Info("order preview expired", "user_id", userID, "order_id", s.OrderID)
	if m.expirer == nil || origin == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.expirer.ExpirePreview(ctx, origin, ExpiredPreview()); err != nil {
		m.log.Warn("could not mark preview expired", "user_id", userID, "err", err)
	}
}

// Publish persists and announces the draft. The session ends whether or
// not publishing succeeds.
func (m *Machine) Publish(ctx context.Context, p auth.Principal) (order.Order, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepConfirm)
	if err != nil {
		return order.Order{}, err
	}
	if s.confirm == nil || !s.confirm.resolve() {
		m.teardown(p.UserID)
		return order.Order{}, ErrExpired
	}
	draft := m.toOrder(s)
	m.teardown(p.UserID)

	published, err := m.publisher.Publish(ctx, draft)
	if err != nil {
		m.log.Error("order publish failed", "user_id", p.UserID, "order_id", draft.ID, "err", err)
		return published, err
	}
	return published, nil
}

func (m *Machine) toOrder(s *Session) order.Order {
	o := order.Order{
		ID:            s.OrderID,
		AdminID:       s.UserID,
		ClientName:    s.Draft.ClientName,
		Compensation:  s.Draft.Compensation,
		Description:   s.Draft.Description,
		Status:        order.StatusOpen,
		Level:         s.Draft.Level,
		RequiredRoles: slices.Clone(s.Draft.RequiredRoles),
		Tags:          slices.Clone(s.Draft.Tags),
	}
	if s.Draft.Deadline != "" {
		if d, err := time.Parse(dateLayout, s.Draft.Deadline); err == nil {
			o.Deadline = &d
		}
	}
	return o
}

// HandleText feeds a plain message to the sender's session. handled is
// false when the message is not wizard input and should be processed
// normally.
func (m *Machine) HandleText(ctx context.Context, p auth.Principal, text string) (reply ui.Reply, handled bool, err error) {
	unlock := m.locks.Lock(p.UserID)
	s, ok := m.sessions.Get(p.UserID)
	var step Step
	if ok && (s.ChannelID == "" || p.ChannelID == s.ChannelID) {
		step = s.Step
	}
	unlock()
	if step == "" {
		return ui.Reply{}, false, nil
	}
	text = strings.TrimSpace(text)

	if strings.EqualFold(text, "cancel") {
		reply, err = m.Cancel(ctx, p)
		reply.Update = false
		return reply, true, err
	}

	switch step {
	case StepDate:
		reply, err = m.typedDate(ctx, p, text)
		return reply, true, err
	case StepLevel:
		reply, err = m.typedLevel(ctx, p, text)
		return reply, true, err
	}
	return ui.Reply{}, false, nil
}

func (m *Machine) typedDate(ctx context.Context, p auth.Principal, text string) (ui.Reply, error) {
	if strings.EqualFold(text, "skip") {
		return m.SkipDate(ctx, p)
	}
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepDate)
	if err != nil {
		return ui.Reply{}, err
	}
	deadline, err := parseDeadline(text, m.today())
	if err != nil {
		return ui.Reply{}, err
	}
	s.Draft.Deadline = deadline
	return ui.Show(m.toCategories(s)), nil
}

func (m *Machine) typedLevel(ctx context.Context, p auth.Principal, text string) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepLevel)
	if err != nil {
		return ui.Reply{}, err
	}
	level, note, err := m.chooseLevel(p, text)
	if err != nil {
		return ui.Reply{}, err
	}
	s.Draft.Level = level
	m.advance(s, StepPreview)
	return ui.Show(reviewPrompt(note)), nil
}

// rolesIn lists directory roles classified into cat, capped at one menu.
func (m *Machine) rolesIn(ctx context.Context, cat skill.Category) ([]order.RoleRef, error) {
	all, err := m.roles.Roles(ctx)
	if err != nil {
		return nil, fmt.Errorf("wizard: list roles: %w", err)
	}
	out := make([]order.RoleRef, 0, len(all))
	for _, r := range all {
		if m.classifier.Classify(r.Name) == cat {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	if len(out) > ui.MaxMenuOptions {
		m.log.Warn("role category truncated", "category", cat, "roles", len(out))
		out = out[:ui.MaxMenuOptions]
	}
	return out, nil
}
