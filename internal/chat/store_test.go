package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garland/internal/model"
	"github.com/garland/internal/protocol"
	"github.com/garland/internal/realtime"
)

type recordingSender struct {
	mu     sync.Mutex
	frames []protocol.Frame
	err    error
}

func (r *recordingSender) Send(f protocol.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingSender) sent() []protocol.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

func msg(id, sender, receiver, body string, at time.Time) model.ChatMessage {
	return model.ChatMessage{ID: id, SenderID: sender, ReceiverID: receiver, BodyHTML: body, SentAt: at}
}

func TestProjectPartitionsByCounterparty(t *testing.T) {
	base := time.Now()
	// A provider talking to two customers; same stream, one conversation each.
	stream := []model.ChatMessage{
		msg("1", "cust-a", "prov", "hi", base),
		msg("2", "prov", "cust-a", "hello", base.Add(time.Minute)),
		msg("3", "cust-b", "prov", "quote?", base.Add(2*time.Minute)),
		msg("4", "prov", "cust-b", "sure", base.Add(3*time.Minute)),
	}

	convs := Project(stream, "prov")
	require.Len(t, convs, 2)
	assert.Len(t, convs["cust-a"].Messages, 2)
	assert.Len(t, convs["cust-b"].Messages, 2)

	// The same stream seen from a customer is a single conversation.
	convsA := Project(stream[:2], "cust-a")
	require.Len(t, convsA, 1)
	assert.Len(t, convsA["prov"].Messages, 2)
}

func TestProjectOrdersBySentAtAscending(t *testing.T) {
	base := time.Now()
	stream := []model.ChatMessage{
		msg("2", "cust", "prov", "second", base.Add(time.Minute)),
		msg("1", "cust", "prov", "first", base),
		msg("3", "prov", "cust", "third", base.Add(2*time.Minute)),
	}

	conv := Project(stream, "prov")["cust"]
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "first", conv.Messages[0].BodyHTML)
	assert.Equal(t, "second", conv.Messages[1].BodyHTML)
	assert.Equal(t, "third", conv.Messages[2].BodyHTML)
}

func TestProjectTakesCounterpartyName(t *testing.T) {
	m := msg("1", "cust", "prov", "hi", time.Now())
	m.SenderName = "Anna"
	conv := Project([]model.ChatMessage{m}, "prov")["cust"]
	require.NotNil(t, conv)
	assert.Equal(t, "Anna", conv.CounterpartyName)
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	sender := &recordingSender{}
	s := NewStore("prov", sender, nil)
	defer s.Close()

	err := s.SendMessage("cust", "")
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, sender.sent())
}

func TestSendMessageDoesNotRenderLocally(t *testing.T) {
	sender := &recordingSender{}
	s := NewStore("prov", sender, nil)
	defer s.Close()

	require.NoError(t, s.SendMessage("cust", "hello"))

	frames := sender.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.FrameSendMessage, frames[0].Type)
	assert.Equal(t, "cust", frames[0].ReceiverID)
	// Confirm-then-render: nothing appears until the gateway echoes it back.
	assert.Empty(t, s.Conversations())

	s.AppendIncoming(msg("1", "prov", "cust", "hello", time.Now()))
	conv := s.Conversations()["cust"]
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, 0, conv.UnreadCount, "own echoed message must not count as unread")
}

func TestSendFileWithoutTextIsValid(t *testing.T) {
	sender := &recordingSender{}
	s := NewStore("prov", sender, nil)
	defer s.Close()

	require.NoError(t, s.SendFile("cust", "/files/contract.pdf", "contract.pdf"))
	require.ErrorIs(t, s.SendFile("cust", "", ""), ErrEmptyMessage)

	frames := sender.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, "/files/contract.pdf", frames[0].FileURL)
	assert.Empty(t, frames[0].Body)
}

func TestUnreadCountersPerConversation(t *testing.T) {
	s := NewStore("prov", &recordingSender{}, nil)
	defer s.Close()
	base := time.Now()

	s.Select("cust-a")
	s.AppendIncoming(msg("1", "cust-a", "prov", "hi", base))
	s.AppendIncoming(msg("2", "cust-b", "prov", "quote?", base))
	s.AppendIncoming(msg("3", "cust-b", "prov", "still there?", base))

	convs := s.Conversations()
	assert.Equal(t, 0, convs["cust-a"].UnreadCount, "active conversation accrues no unread")
	assert.Equal(t, 2, convs["cust-b"].UnreadCount)

	s.Select("cust-b")
	assert.Equal(t, 0, s.Conversations()["cust-b"].UnreadCount)
}

func TestDraftsSurviveConversationSwitch(t *testing.T) {
	s := NewStore("prov", &recordingSender{}, nil)
	defer s.Close()

	s.Select("cust-a")
	s.SetDraft("cust-a", "Dear Anna, the wreath is")
	s.Select("cust-b")
	s.SetDraft("cust-b", "Hi Bob")
	s.Select("cust-a")

	assert.Equal(t, "Dear Anna, the wreath is", s.Draft("cust-a"))
	assert.Equal(t, "Hi Bob", s.Draft("cust-b"))
}

type fakeHistoryAPI struct {
	mu    sync.Mutex
	withs []string
	msgs  []model.ChatMessage
}

func (f *fakeHistoryAPI) History(ctx context.Context, counterpartyID string) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withs = append(f.withs, counterpartyID)
	return f.msgs, nil
}

func TestLoadInitialFetchShapeDependsOnRole(t *testing.T) {
	base := time.Now()
	api := &fakeHistoryAPI{msgs: []model.ChatMessage{msg("1", "cust", "prov", "hi", base)}}

	// A provider pulls the whole stream at once.
	prov := NewStore("prov", &recordingSender{}, nil)
	defer prov.Close()
	require.NoError(t, prov.LoadInitial(context.Background(), api, model.RoleProvider))
	require.Len(t, prov.Conversations()["cust"].Messages, 1)

	// A customer pulls only the selected provider's conversation.
	cust := NewStore("cust", &recordingSender{}, nil)
	defer cust.Close()
	cust.Select("prov")
	require.NoError(t, cust.LoadInitial(context.Background(), api, model.RoleCustomer))

	assert.Equal(t, []string{"", "prov"}, api.withs)
}

func TestLoadHistoryDedupesAgainstEvents(t *testing.T) {
	s := NewStore("prov", &recordingSender{}, nil)
	defer s.Close()
	base := time.Now()

	s.AppendIncoming(msg("1", "cust", "prov", "hi", base))
	s.LoadHistory([]model.ChatMessage{
		msg("1", "cust", "prov", "hi", base),
		msg("2", "prov", "cust", "hello", base.Add(time.Minute)),
	})

	conv := s.Conversations()["cust"]
	require.NotNil(t, conv)
	assert.Len(t, conv.Messages, 2)
	// History never bumps unread; only live events do.
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestStoreConsumesMessageEvents(t *testing.T) {
	mux := realtime.NewMux()
	s := NewStore("prov", &recordingSender{}, mux)
	defer s.Close()

	payload, _ := json.Marshal(msg("1", "cust", "prov", "hi", time.Now()))
	mux.Dispatch(protocol.Event{Type: protocol.EventMessageReceived, Payload: payload})

	conv := s.Conversations()["cust"]
	require.NotNil(t, conv)
	assert.Equal(t, 1, conv.UnreadCount)

	// After Close the store no longer consumes events.
	s.Close()
	payload2, _ := json.Marshal(msg("2", "cust", "prov", "again", time.Now()))
	mux.Dispatch(protocol.Event{Type: protocol.EventMessageReceived, Payload: payload2})
	assert.Len(t, s.Conversations()["cust"].Messages, 1)
}

func TestSelectedReturnsActiveProjection(t *testing.T) {
	s := NewStore("prov", &recordingSender{}, nil)
	defer s.Close()

	assert.Nil(t, s.Selected())

	s.Select("cust")
	sel := s.Selected()
	require.NotNil(t, sel)
	assert.Equal(t, "cust", sel.CounterpartyID)
	assert.Empty(t, sel.Messages)

	s.AppendIncoming(msg("1", "cust", "prov", "hi", time.Now()))
	require.Len(t, s.Selected().Messages, 1)
}
