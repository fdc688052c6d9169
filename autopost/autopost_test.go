package autopost

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/postpilot/admission"
	"github.com/hupe1980/postpilot/capability"
	"github.com/hupe1980/postpilot/engine"
	"github.com/hupe1980/postpilot/store"
	"github.com/hupe1980/postpilot/transport"
)

type fakePublisher struct {
	posts      []string
	mediaIDs   []string
	uploads    int
	publishErr error
	uploadErr  error
}

func (f *fakePublisher) PublishPost(_ context.Context, text, mediaID string) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.posts = append(f.posts, text)
	f.mediaIDs = append(f.mediaIDs, mediaID)
	return "post-1", nil
}

func (f *fakePublisher) UploadMedia(_ context.Context, _ []byte) (string, error) {
	f.uploads++
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "media-1", nil
}

type fakeStore struct {
	store.Store

	savedText  string
	savedID    string
	savedMedia bool
	saves      int
}

func (f *fakeStore) RecentPostsFormatted(context.Context, int) (string, error) {
	return "No previous posts", nil
}

func (f *fakeStore) SavePost(_ context.Context, text, externalID string, hadMedia bool) error {
	f.saves++
	f.savedText = text
	f.savedID = externalID
	f.savedMedia = hadMedia
	return nil
}

func emptyPlan() map[string]any {
	return map[string]any{"reasoning": "no tools needed", "steps": []any{}}
}

func mediaPlan() map[string]any {
	return map[string]any{
		"reasoning": "add a picture",
		"steps": []any{
			map[string]any{"tool": capability.GenerateImageName, "params": map[string]any{"prompt": "p"}},
		},
	}
}

func newService(t *testing.T, mock *transport.Mock, publisher *fakePublisher, st *fakeStore, gate admission.Gate, reg *capability.Registry) *Service {
	t.Helper()
	if reg == nil {
		reg = capability.NewRegistry()
	}
	loop := engine.New(mock, reg)
	return New(loop, publisher, st, gate, func(o *Options) {
		o.Persona = "Persona."
		o.CapabilityGuide = "No tools are available. Plan an empty list of steps."
	})
}

func TestRun_HappyPath(t *testing.T) {
	mock := transport.NewMock().
		Enqueue(emptyPlan()).
		Enqueue(map[string]any{"text": "hello world"})
	publisher := &fakePublisher{}
	st := &fakeStore{}

	svc := newService(t, mock, publisher, st, admission.AlwaysAllow{}, nil)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, "post-1", summary.PostID)
	assert.Equal(t, "hello world", summary.Text)
	assert.Equal(t, "no tools needed", summary.Reasoning)

	assert.Equal(t, []string{"hello world"}, publisher.posts)
	assert.Equal(t, []string{""}, publisher.mediaIDs)
	assert.Zero(t, publisher.uploads)

	assert.Equal(t, 1, st.saves)
	assert.Equal(t, "hello world", st.savedText)
	assert.Equal(t, "post-1", st.savedID)
	assert.False(t, st.savedMedia)
}

func TestRun_Blocked(t *testing.T) {
	mock := transport.NewMock()
	publisher := &fakePublisher{}
	st := &fakeStore{}

	svc := newService(t, mock, publisher, st, blockedGate{}, nil)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.Equal(t, "posting_blocked: tier_limit", summary.Error)

	// Nothing downstream runs.
	assert.Empty(t, mock.Requests)
	assert.Empty(t, publisher.posts)
	assert.Zero(t, st.saves)
}

type blockedGate struct{}

func (blockedGate) CanPost(context.Context) (bool, string)            { return false, "tier_limit" }
func (blockedGate) CanProcessMentions(context.Context) (bool, string) { return false, "tier_limit" }

func TestRun_WithMedia(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Descriptor{Name: capability.GenerateImageName},
		func(ctx context.Context, params map[string]string) (capability.Result, error) {
			return capability.MediaResult{Bytes: []byte{1, 2, 3}}, nil
		}))

	mock := transport.NewMock().
		Enqueue(mediaPlan()).
		Enqueue(map[string]any{"text": "with picture"})
	publisher := &fakePublisher{}
	st := &fakeStore{}

	svc := newService(t, mock, publisher, st, admission.AlwaysAllow{}, reg)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, 1, publisher.uploads)
	assert.Equal(t, []string{"media-1"}, publisher.mediaIDs)
	assert.True(t, st.savedMedia)
}

func TestRun_MediaUploadFailureDegrades(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Descriptor{Name: capability.GenerateImageName},
		func(ctx context.Context, params map[string]string) (capability.Result, error) {
			return capability.MediaResult{Bytes: []byte{1}}, nil
		}))

	mock := transport.NewMock().
		Enqueue(mediaPlan()).
		Enqueue(map[string]any{"text": "still posted"})
	publisher := &fakePublisher{uploadErr: errors.New("413")}
	st := &fakeStore{}

	svc := newService(t, mock, publisher, st, admission.AlwaysAllow{}, reg)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Success)

	// Posted text-only after the upload failed.
	assert.Equal(t, []string{"still posted"}, publisher.posts)
	assert.Equal(t, []string{""}, publisher.mediaIDs)
	assert.False(t, st.savedMedia)
}

func TestRun_EmptyTextIsQuietSuccess(t *testing.T) {
	mock := transport.NewMock().
		Enqueue(emptyPlan()).
		Enqueue(map[string]any{"text": ""})
	publisher := &fakePublisher{}
	st := &fakeStore{}

	svc := newService(t, mock, publisher, st, admission.AlwaysAllow{}, nil)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Empty(t, summary.PostID)
	assert.Empty(t, publisher.posts)
	assert.Zero(t, st.saves)
}

func TestRun_AgentFailureReported(t *testing.T) {
	mock := transport.NewMock().Enqueue("not json")
	publisher := &fakePublisher{}
	st := &fakeStore{}

	svc := newService(t, mock, publisher, st, admission.AlwaysAllow{}, nil)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.Contains(t, summary.Error, "malformed model output")
	assert.Empty(t, publisher.posts)
}

func TestRun_PublishFailureReported(t *testing.T) {
	mock := transport.NewMock().
		Enqueue(emptyPlan()).
		Enqueue(map[string]any{"text": "hi"})
	publisher := &fakePublisher{publishErr: errors.New("503 service unavailable")}
	st := &fakeStore{}

	svc := newService(t, mock, publisher, st, admission.AlwaysAllow{}, nil)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.Contains(t, summary.Error, "503")
	// The produced text is still reported even though publishing failed.
	assert.Equal(t, "hi", summary.Text)
	assert.Zero(t, st.saves)
}
