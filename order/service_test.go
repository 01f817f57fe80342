package order_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbot/auth"
	"orderbot/coder"
	"orderbot/memstore"
	"orderbot/order"
	"orderbot/ui"
)

type fakeMessenger struct {
	mu       sync.Mutex
	next     int
	channels map[string][]ui.Posted
	unknown  map[string]bool
	sendErr  error
	edits    []string
}

func newFakeMessenger(channels ...string) *fakeMessenger {
	m := &fakeMessenger{channels: make(map[string][]ui.Posted), unknown: make(map[string]bool)}
	for _, ch := range channels {
		m.channels[ch] = nil
	}
	return m
}

func (m *fakeMessenger) Send(ctx context.Context, channelID string, msg ui.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	if _, ok := m.channels[channelID]; !ok || m.unknown[channelID] {
		return "", ui.ErrUnknownChannel
	}
	m.next++
	id := fmt.Sprintf("msg-%d", m.next)
	m.channels[channelID] = append(m.channels[channelID], ui.Posted{ID: id, Content: msg.Content, Embeds: msg.Embeds})
	return id, nil
}

func (m *fakeMessenger) Edit(ctx context.Context, channelID, messageID string, msg ui.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, messageID)
	return nil
}

func (m *fakeMessenger) Delete(ctx context.Context, channelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	posted, ok := m.channels[channelID]
	if !ok {
		return ui.ErrUnknownChannel
	}
	for i, p := range posted {
		if p.ID == messageID {
			m.channels[channelID] = append(posted[:i], posted[i+1:]...)
			return nil
		}
	}
	return ui.ErrUnknownMessage
}

func (m *fakeMessenger) Recent(ctx context.Context, channelID string, limit int) ([]ui.Posted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	posted, ok := m.channels[channelID]
	if !ok {
		return nil, ui.ErrUnknownChannel
	}
	return append([]ui.Posted(nil), posted...), nil
}

func (m *fakeMessenger) posted(channelID string) []ui.Posted {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ui.Posted(nil), m.channels[channelID]...)
}

type archived struct {
	channel, group, revoked string
}

type fakeWorkspace struct {
	m        *fakeMessenger
	created  int
	members  [][]string
	archives []archived
}

func (w *fakeWorkspace) CreatePrivateChannel(ctx context.Context, name string, memberIDs ...string) (string, error) {
	w.created++
	id := fmt.Sprintf("private-%d", w.created)
	w.m.mu.Lock()
	w.m.channels[id] = nil
	w.m.mu.Unlock()
	w.members = append(w.members, memberIDs)
	return id, nil
}

func (w *fakeWorkspace) Archive(ctx context.Context, channelID, group, revokeUserID string) error {
	w.archives = append(w.archives, archived{channelID, group, revokeUserID})
	return nil
}

type fixture struct {
	store *memstore.Store
	msg   *fakeMessenger
	ws    *fakeWorkspace
	svc   *order.Service
	now   time.Time
}

var (
	admin    = auth.Principal{UserID: "admin-1", IsAdmin: true}
	coderOne = auth.Principal{UserID: "coder-1"}
	coderTwo = auth.Principal{UserID: "coder-2"}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		msg:   newFakeMessenger("level-1", "level-3", "default"),
		now:   time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC),
	}
	f.ws = &fakeWorkspace{m: f.msg}
	clock := func() time.Time { return f.now }
	coders := coder.NewService(f.store.Coders(), nil).WithClock(clock)
	ids := 0
	f.svc = order.NewService(f.store.Orders(), coders, f.msg, f.ws, order.Config{
		LevelChannels:  map[int]string{1: "level-1", 3: "level-3", 5: "level-5"},
		DefaultChannel: "default",
		MentionRoleIDs: []string{"reviewers"},
		ArchivePrefix:  "archive",
	}, nil).WithClock(clock).WithIDGenerator(func() string { ids++; return fmt.Sprintf("ORD-%d", ids) })
	return f
}

func (f *fixture) publish(t *testing.T, level int) order.Order {
	t.Helper()
	o, err := f.svc.Publish(context.Background(), order.Order{
		ID:           f.svc.NewID(),
		AdminID:      admin.UserID,
		ClientName:   "Acme",
		Compensation: "50$",
		Description:  "Build a widget",
		Level:        level,
	})
	require.NoError(t, err)
	return o
}

func TestPublish_RoutesByLevel(t *testing.T) {
	f := newFixture(t)
	o := f.publish(t, 3)

	assert.Equal(t, order.StatusOpen, o.Status)
	assert.Equal(t, "level-3", o.ChannelID)
	require.NotEmpty(t, o.MessageID)

	stored, err := f.store.Orders().Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.MessageID, stored.MessageID)
	posted := f.msg.posted("level-3")
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0].Embeds[0].Footer, o.ID)
}

func TestPublish_FallsBackToDefault(t *testing.T) {
	f := newFixture(t)
	// level 5 maps to a channel that does not exist, level 2 has no mapping
	for _, level := range []int{5, 2} {
		o := f.publish(t, level)
		assert.Equal(t, "default", o.ChannelID, "level %d", level)
	}
}

func TestPublish_ChannelNotFound(t *testing.T) {
	f := newFixture(t)
	f.msg.unknown["default"] = true

	_, err := f.svc.Publish(context.Background(), order.Order{ID: "ORD-x", AdminID: "a", Level: 4})
	require.ErrorIs(t, err, order.ErrChannelNotFound)

	var pe *order.PublishError
	require.ErrorAs(t, err, &pe)
	require.NotNil(t, pe.Order, "order row is kept")
	stored, err := f.store.Orders().Get(context.Background(), "ORD-x")
	require.NoError(t, err)
	assert.Empty(t, stored.MessageID)
}

func TestPublish_SendFailure(t *testing.T) {
	f := newFixture(t)
	f.msg.sendErr = errors.New("gateway timeout")
	_, err := f.svc.Publish(context.Background(), order.Order{ID: "ORD-x", AdminID: "a", Level: 1})
	assert.ErrorIs(t, err, order.ErrPublish)
	assert.NotErrorIs(t, err, order.ErrChannelNotFound)
}

func TestPublish_PersistFailure(t *testing.T) {
	f := newFixture(t)
	f.publish(t, 1)
	_, err := f.svc.Publish(context.Background(), order.Order{ID: "ORD-1", AdminID: "a", Level: 1})
	require.ErrorIs(t, err, order.ErrPersist)
	require.ErrorIs(t, err, order.ErrDuplicateID)
	assert.Len(t, f.msg.posted("level-1"), 1, "nothing posted for the failed order")
}

func TestAccept_AssignsAndOpensPrivateChannel(t *testing.T) {
	f := newFixture(t)
	o := f.publish(t, 1)

	got, err := f.svc.Accept(context.Background(), coderOne, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusAssigned, got.Status)
	assert.Equal(t, coderOne.UserID, got.AssignedTo)
	assert.Equal(t, "private-1", got.PrivateChannelID)
	assert.Equal(t, [][]string{{coderOne.UserID, admin.UserID}}, f.ws.members)
	assert.Len(t, f.msg.posted("private-1"), 1)
	assert.Equal(t, []string{o.MessageID}, f.msg.edits)

	c, err := f.store.Coders().Get(context.Background(), coderOne.UserID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, c.ActiveOrderID)
}

func TestAccept_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.publish(t, 1)
	second := f.publish(t, 1)
	hard := f.publish(t, 3)

	_, err := f.svc.Accept(ctx, coderOne, first.ID)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, coderTwo, first.ID)
	assert.ErrorIs(t, err, order.ErrInvalidTransition, "already taken")

	_, err = f.svc.Accept(ctx, coderOne, second.ID)
	assert.ErrorIs(t, err, order.ErrCoderBusy)
	o, _ := f.store.Orders().Get(ctx, second.ID)
	assert.Equal(t, order.StatusOpen, o.Status)

	_, err = f.svc.Accept(ctx, coderTwo, hard.ID)
	assert.ErrorIs(t, err, order.ErrLevelTooLow)

	_, err = f.svc.Accept(ctx, coderTwo, "ORD-missing")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestAccept_BannedCoderRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.publish(t, 1)
	f.store.Coders().Put(coder.Coder{UserID: coderOne.UserID, Level: 2, Banned: true})

	_, err := f.svc.Accept(ctx, coderOne, o.ID)
	assert.ErrorIs(t, err, order.ErrBanned)

	stored, err := f.store.Orders().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOpen, stored.Status)
	assert.Empty(t, stored.AssignedTo)
	c, err := f.store.Coders().Get(ctx, coderOne.UserID)
	require.NoError(t, err)
	assert.Empty(t, c.ActiveOrderID)
}

func TestAccept_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	o := f.publish(t, 1)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Accept(context.Background(), auth.Principal{UserID: fmt.Sprintf("racer-%d", i)}, o.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestCancel_AssignedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.publish(t, 1)
	_, err := f.svc.Accept(ctx, coderOne, o.ID)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)

	c, _ := f.store.Coders().Get(ctx, coderOne.UserID)
	assert.Empty(t, c.ActiveOrderID)
	assert.Empty(t, f.msg.posted("level-1"), "announcement retracted")
	require.Len(t, f.ws.archives, 1)
	assert.Equal(t, archived{"private-1", "archive-2025-06", coderOne.UserID}, f.ws.archives[0])
	notices := f.msg.posted("private-1")
	assert.Contains(t, notices[len(notices)-1].Content, "cancelled")

	_, err = f.svc.Cancel(ctx, admin, o.ID)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestCancel_StaleReferenceFallsBackToScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.publish(t, 1)

	// a repost left behind under a different id
	f.msg.mu.Lock()
	posts := f.msg.channels["level-1"]
	posts[0].ID = "reposted"
	f.msg.mu.Unlock()

	_, err := f.svc.Cancel(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Empty(t, f.msg.posted("level-1"))
}

func TestCancel_Permissions(t *testing.T) {
	f := newFixture(t)
	o := f.publish(t, 1)

	_, err := f.svc.Cancel(context.Background(), coderOne, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = f.svc.Cancel(context.Background(), coderOne, "ORD-none")
	assert.ErrorIs(t, err, order.ErrNotFound)

	owner := auth.Principal{UserID: admin.UserID}
	_, err = f.svc.Cancel(context.Background(), owner, o.ID)
	assert.NoError(t, err, "owning admin may cancel without the role")
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.publish(t, 1)
	_, err := f.svc.Accept(ctx, coderOne, o.ID)
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, coderTwo, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)

	done, err := f.svc.Complete(ctx, coderOne, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, done.Status)

	c, _ := f.store.Coders().Get(ctx, coderOne.UserID)
	assert.Empty(t, c.ActiveOrderID)
	assert.Equal(t, 1, c.CompletedOrders)
	assert.Len(t, f.ws.archives, 1)

	_, err = f.svc.Complete(ctx, coderOne, o.ID)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestAdminComplete_RequiresRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.publish(t, 1)
	_, err := f.svc.Accept(ctx, coderOne, o.ID)
	require.NoError(t, err)

	_, err = f.svc.AdminComplete(ctx, auth.Principal{UserID: admin.UserID}, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)

	_, err = f.svc.AdminComplete(ctx, admin, o.ID)
	require.NoError(t, err)
	c, _ := f.store.Coders().Get(ctx, coderOne.UserID)
	assert.Equal(t, 0, c.CompletedOrders, "admin completion does not credit")
}

func TestRequestVerification_Cooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.publish(t, 1)
	_, err := f.svc.Accept(ctx, coderOne, o.ID)
	require.NoError(t, err)

	_, err = f.svc.RequestVerification(ctx, coderOne, o.ID)
	require.NoError(t, err)
	posted := f.msg.posted("private-1")
	assert.Contains(t, posted[len(posted)-1].Content, "<@&reviewers>")

	start := f.now
	f.now = start.Add(time.Hour)
	_, err = f.svc.RequestVerification(ctx, coderOne, o.ID)
	var cd *order.CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, 23, cd.Hours())

	f.now = start.Add(24*time.Hour + time.Second)
	_, err = f.svc.RequestVerification(ctx, coderOne, o.ID)
	require.NoError(t, err)

	_, err = f.svc.RequestVerification(ctx, coderTwo, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)
}

func TestRate_CompletesAssignedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.publish(t, 1)
	_, err := f.svc.Accept(ctx, coderOne, o.ID)
	require.NoError(t, err)

	_, err = f.svc.Rate(ctx, coderTwo, order.RateParams{OrderID: o.ID, CoderID: coderOne.UserID, Rating: 4})
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = f.svc.Rate(ctx, admin, order.RateParams{OrderID: o.ID, CoderID: coderTwo.UserID, Rating: 4})
	assert.ErrorIs(t, err, order.ErrNotAssignee)
	_, err = f.svc.Rate(ctx, admin, order.RateParams{OrderID: o.ID, CoderID: coderOne.UserID, Rating: 7})
	assert.ErrorIs(t, err, order.ErrInvalidRating)

	rated, err := f.svc.Rate(ctx, admin, order.RateParams{OrderID: o.ID, CoderID: coderOne.UserID, Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(80), rated.Record.XPEarned)

	stored, _ := f.store.Orders().Get(ctx, o.ID)
	assert.Equal(t, order.StatusCompleted, stored.Status)
	assert.Empty(t, rated.Coder.ActiveOrderID)

	_, err = f.svc.Rate(ctx, admin, order.RateParams{OrderID: o.ID, CoderID: coderOne.UserID, Rating: 4})
	assert.ErrorIs(t, err, coder.ErrAlreadyRated)
}

func TestCooldownHoursRoundUp(t *testing.T) {
	cases := map[time.Duration]int{
		23 * time.Hour:             23,
		22*time.Hour + time.Second: 23,
		time.Minute:                1,
		0:                          0,
	}
	for d, want := range cases {
		assert.Equal(t, want, (&order.CooldownError{Remaining: d}).Hours(), d.String())
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]order.Status{
		{order.StatusOpen, order.StatusAssigned},
		{order.StatusOpen, order.StatusCancelled},
		{order.StatusAssigned, order.StatusCompleted},
		{order.StatusAssigned, order.StatusCancelled},
	}
	all := []order.Status{order.StatusOpen, order.StatusAssigned, order.StatusCompleted, order.StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed {
				if a[0] == from && a[1] == to {
					want = true
				}
			}
			assert.Equal(t, want, order.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}
