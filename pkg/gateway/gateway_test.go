package gateway

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegem/telegem/pkg/assembly"
	"github.com/telegem/telegem/pkg/conversation"
	"github.com/telegem/telegem/pkg/gemini"
	"github.com/telegem/telegem/pkg/session"
)

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

type sendCall struct {
	history []conversation.Turn
	parts   []conversation.Part
}

// fakeModel records every Send and replies with a canned text or error.
type fakeModel struct {
	calls []sendCall
	reply string
	err   error
}

var _ gemini.ModelClient = &fakeModel{}

func (f *fakeModel) Send(_ context.Context, history []conversation.Turn, parts []conversation.Part) (string, error) {
	f.calls = append(f.calls, sendCall{history: history, parts: parts})
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

// testClock advances only when told to.
type testClock struct {
	now time.Time
}

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }
func (c *testClock) read() time.Time         { return c.now }

func newTestGateway(t *testing.T, model gemini.ModelClient) (*Gateway, *session.Store, *testClock) {
	t.Helper()
	sessions := session.NewStore(nil)
	clock := &testClock{now: time.UnixMilli(1700000000000)}
	gw, err := New(Config{
		Sessions: sessions,
		Pipeline: assembly.NewPipeline(),
		Model:    model,
		Clock:    clock.read,
	})
	require.NoError(t, err)
	return gw, sessions, clock
}

func TestHandleFirstTextMessage(t *testing.T) {
	model := &fakeModel{reply: "Hi! How can I help?"}
	gw, sessions, _ := newTestGateway(t, model)
	ctx := context.Background()
	user := conversation.UserID(1)

	reply, gwErr := gw.Handle(ctx, user, nil, "Hello")
	require.Nil(t, gwErr)
	require.False(t, reply.Suppressed)
	assert.Equal(t, "Hi! How can I help?", reply.Text)

	// The model saw an empty prior history and the new text part.
	require.Len(t, model.calls, 1)
	assert.Empty(t, model.calls[0].history)
	require.Len(t, model.calls[0].parts, 1)
	assert.Equal(t, "Hello", model.calls[0].parts[0].Text)

	// Session now holds the user turn and the model turn, in order.
	sess := sessions.Get(ctx, user)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, conversation.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, "Hello", sess.Turns[0].JoinedText())
	assert.Equal(t, conversation.RoleModel, sess.Turns[1].Role)
	assert.Equal(t, "Hi! How can I help?", sess.Turns[1].JoinedText())
}

func TestHandleSecondMessageCarriesHistory(t *testing.T) {
	model := &fakeModel{reply: "answer"}
	gw, _, clock := newTestGateway(t, model)
	ctx := context.Background()
	user := conversation.UserID(2)

	_, gwErr := gw.Handle(ctx, user, nil, "first")
	require.Nil(t, gwErr)
	clock.advance(2 * time.Second)
	_, gwErr = gw.Handle(ctx, user, nil, "second")
	require.Nil(t, gwErr)

	require.Len(t, model.calls, 2)
	require.Len(t, model.calls[1].history, 2)
	assert.Equal(t, "first", model.calls[1].history[0].JoinedText())
	assert.Equal(t, "answer", model.calls[1].history[1].JoinedText())
}

func TestDebounceSuppressesRapidDuplicates(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	gw, sessions, clock := newTestGateway(t, model)
	ctx := context.Background()
	user := conversation.UserID(3)

	first, gwErr := gw.Handle(ctx, user, nil, "hello")
	require.Nil(t, gwErr)
	require.False(t, first.Suppressed)

	clock.advance(300 * time.Millisecond)
	second, gwErr := gw.Handle(ctx, user, nil, "hello")
	require.Nil(t, gwErr)
	assert.True(t, second.Suppressed)
	assert.Empty(t, second.Text)

	// One model invocation, one user/model turn pair.
	assert.Len(t, model.calls, 1)
	assert.Len(t, sessions.Get(ctx, user).Turns, 2)
}

func TestDebounceAllowsSpacedRequests(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	gw, sessions, clock := newTestGateway(t, model)
	ctx := context.Background()
	user := conversation.UserID(4)

	_, gwErr := gw.Handle(ctx, user, nil, "one")
	require.Nil(t, gwErr)
	clock.advance(1500 * time.Millisecond)
	_, gwErr = gw.Handle(ctx, user, nil, "two")
	require.Nil(t, gwErr)

	assert.Len(t, model.calls, 2)
	assert.Len(t, sessions.Get(ctx, user).Turns, 4)
}

func TestDebounceRecordOverwrittenBySuppressedEvents(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	gw, _, clock := newTestGateway(t, model)
	ctx := context.Background()
	user := conversation.UserID(5)

	_, gwErr := gw.Handle(ctx, user, nil, "start")
	require.Nil(t, gwErr)

	// Each duplicate lands inside the window measured from the previous
	// event, so the whole burst is suppressed even though it spans more
	// than one window in total.
	for i := 0; i < 4; i++ {
		clock.advance(800 * time.Millisecond)
		reply, gwErr := gw.Handle(ctx, user, nil, "start")
		require.Nil(t, gwErr)
		assert.True(t, reply.Suppressed, "burst event %d", i)
	}
	assert.Len(t, model.calls, 1)
}

func TestDebounceIsPerUser(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	gw, _, _ := newTestGateway(t, model)
	ctx := context.Background()

	_, gwErr := gw.Handle(ctx, conversation.UserID(10), nil, "a")
	require.Nil(t, gwErr)
	reply, gwErr := gw.Handle(ctx, conversation.UserID(11), nil, "b")
	require.Nil(t, gwErr)

	assert.False(t, reply.Suppressed)
	assert.Len(t, model.calls, 2)
}

func TestAssemblyFailureLeavesSessionUntouched(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	gw, sessions, _ := newTestGateway(t, model)
	ctx := context.Background()
	user := conversation.UserID(6)

	_, gwErr := gw.Handle(ctx, user, &assembly.Asset{Data: []byte("x"), MIME: "audio/ogg"}, "")
	require.NotNil(t, gwErr)
	assert.Equal(t, KindUnsupportedMedia, gwErr.Kind)
	assert.True(t, gwErr.IsUserError())
	assert.NotEmpty(t, gwErr.UserMessage)

	assert.Empty(t, model.calls)
	assert.Empty(t, sessions.Get(ctx, user).Turns)
}

func TestEmptyInputRejected(t *testing.T) {
	gw, _, _ := newTestGateway(t, &fakeModel{reply: "ok"})

	_, gwErr := gw.Handle(context.Background(), 7, nil, "   ")
	require.NotNil(t, gwErr)
	assert.Equal(t, KindEmptyInput, gwErr.Kind)
}

func TestUpstreamFailureLeavesNoModelTurn(t *testing.T) {
	model := &fakeModel{err: errors.Wrap(gemini.ErrUpstream, "rate limited")}
	gw, sessions, _ := newTestGateway(t, model)
	ctx := context.Background()
	user := conversation.UserID(8)

	_, gwErr := gw.Handle(ctx, user, nil, "hello")
	require.NotNil(t, gwErr)
	assert.Equal(t, KindUpstream, gwErr.Kind)

	// The user's turn remains so a retry continues the same context.
	sess := sessions.Get(ctx, user)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, conversation.RoleUser, sess.Turns[0].Role)
}

func TestAuthFailureClassification(t *testing.T) {
	model := &fakeModel{err: errors.Wrap(gemini.ErrAuth, "key revoked")}
	gw, _, _ := newTestGateway(t, model)

	_, gwErr := gw.Handle(context.Background(), 9, nil, "hello")
	require.NotNil(t, gwErr)
	assert.Equal(t, KindAuthConfig, gwErr.Kind)
	assert.False(t, gwErr.IsUserError())
}

func TestDisabledModelShortCircuits(t *testing.T) {
	gw, sessions, _ := newTestGateway(t, nil)
	ctx := context.Background()
	user := conversation.UserID(12)

	_, gwErr := gw.Handle(ctx, user, nil, "hello")
	require.NotNil(t, gwErr)
	assert.Equal(t, KindAuthConfig, gwErr.Kind)

	// The session is not mutated while the feature is disabled.
	assert.Empty(t, sessions.Get(ctx, user).Turns)
}

func TestUnclassifiedModelErrorBecomesInternal(t *testing.T) {
	model := &fakeModel{err: errors.New("something odd")}
	gw, _, _ := newTestGateway(t, model)

	_, gwErr := gw.Handle(context.Background(), 13, nil, "hello")
	require.NotNil(t, gwErr)
	assert.Equal(t, KindInternal, gwErr.Kind)
}

type panickingModel struct{}

func (panickingModel) Send(context.Context, []conversation.Turn, []conversation.Part) (string, error) {
	panic("boom")
}

func TestHandleRecoversFromPanic(t *testing.T) {
	gw, _, _ := newTestGateway(t, panickingModel{})

	var gwErr *Error
	require.NotPanics(t, func() {
		_, gwErr = gw.Handle(context.Background(), 14, nil, "hello")
	})
	require.NotNil(t, gwErr)
	assert.Equal(t, KindInternal, gwErr.Kind)
}

func TestImageWithoutCaptionGetsDefaultPrompt(t *testing.T) {
	model := &fakeModel{reply: "a picture"}
	gw, _, _ := newTestGateway(t, model)

	_, gwErr := gw.Handle(context.Background(), 15, &assembly.Asset{Data: tinyPNG(t), MIME: "image/png"}, "")
	require.Nil(t, gwErr)

	require.Len(t, model.calls, 1)
	parts := model.calls[0].parts
	require.Len(t, parts, 2)
	assert.Equal(t, conversation.PartKindImage, parts[0].Kind)
	assert.Equal(t, assembly.DefaultImagePrompt, parts[1].Text)
}
