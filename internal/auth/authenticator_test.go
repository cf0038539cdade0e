package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapaggregator/internal/codec"
	"dapaggregator/internal/dap"
)

type fakeTokens struct {
	leader          map[dap.TaskId]BearerToken
	collector       map[dap.TaskId]BearerToken
	taskprovLeader  BearerToken
	taskprovCollect BearerToken
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{
		leader:    map[dap.TaskId]BearerToken{},
		collector: map[dap.TaskId]BearerToken{},
	}
}

func (f *fakeTokens) LeaderToken(_ context.Context, taskID dap.TaskId) (BearerToken, bool, error) {
	t, ok := f.leader[taskID]
	return t, ok, nil
}

func (f *fakeTokens) CollectorToken(_ context.Context, taskID dap.TaskId) (BearerToken, bool, error) {
	t, ok := f.collector[taskID]
	return t, ok, nil
}

func (f *fakeTokens) IsTaskprovLeaderToken(t BearerToken) bool {
	return t.Equal(f.taskprovLeader)
}

func (f *fakeTokens) IsTaskprovCollectorToken(t BearerToken) bool {
	return t.Equal(f.taskprovCollect)
}

func TestAuthenticator_Check_ClientUploadAlwaysPasses(t *testing.T) {
	a := NewAuthenticator(newFakeTokens(), nil)
	taskID := dap.TaskId{1}

	abort, err := a.Check(context.Background(), Request{
		TaskID:    &taskID,
		MediaType: codec.MediaTypeReport,
		Auth:      nil,
	})
	require.NoError(t, err)
	assert.Nil(t, abort)
}

func TestAuthenticator_Check_LeaderConfiguredToken(t *testing.T) {
	tokens := newFakeTokens()
	taskID := dap.TaskId{1}
	tokens.leader[taskID] = NewBearerToken("leader-secret")
	a := NewAuthenticator(tokens, nil)

	abort, err := a.Check(context.Background(), Request{
		TaskID:    &taskID,
		MediaType: codec.MediaTypeAggregationJobInitReq,
		Auth:      BearerAuth{Token: NewBearerToken("leader-secret")},
	})
	require.NoError(t, err)
	assert.Nil(t, abort)

	abort, err = a.Check(context.Background(), Request{
		TaskID:    &taskID,
		MediaType: codec.MediaTypeAggregationJobInitReq,
		Auth:      BearerAuth{Token: NewBearerToken("wrong")},
	})
	require.NoError(t, err)
	require.NotNil(t, abort)
	assert.Equal(t, dap.AbortUnauthorizedRequest, abort.Type)
}

func TestAuthenticator_Check_FallsBackToTaskprovLeaderToken(t *testing.T) {
	tokens := newFakeTokens()
	tokens.taskprovLeader = NewBearerToken("taskprov-leader")
	taskID := dap.TaskId{2} // no configured token: provisional taskprov task
	a := NewAuthenticator(tokens, nil)

	abort, err := a.Check(context.Background(), Request{
		TaskID:    &taskID,
		MediaType: codec.MediaTypeAggregationJobInitReq,
		Auth:      BearerAuth{Token: NewBearerToken("taskprov-leader")},
	})
	require.NoError(t, err)
	assert.Nil(t, abort)

	abort, err = a.Check(context.Background(), Request{
		TaskID:    &taskID,
		MediaType: codec.MediaTypeAggregationJobInitReq,
		Auth:      BearerAuth{Token: NewBearerToken("not-it")},
	})
	require.NoError(t, err)
	require.NotNil(t, abort)
}

func TestAuthenticator_Check_MissingTaskID(t *testing.T) {
	a := NewAuthenticator(newFakeTokens(), nil)
	abort, err := a.Check(context.Background(), Request{
		TaskID:    nil,
		MediaType: codec.MediaTypeAggregationJobInitReq,
		Auth:      BearerAuth{Token: NewBearerToken("x")},
	})
	require.NoError(t, err)
	require.NotNil(t, abort)
	assert.Equal(t, dap.AbortUnauthorizedRequest, abort.Type)
}

func TestAuthenticator_Check_UnknownMediaType(t *testing.T) {
	a := NewAuthenticator(newFakeTokens(), nil)
	taskID := dap.TaskId{1}
	abort, err := a.Check(context.Background(), Request{
		TaskID:    &taskID,
		MediaType: codec.MediaTypeUnknown,
		Auth:      nil,
	})
	require.NoError(t, err)
	require.NotNil(t, abort)
}

func TestAuthenticator_Check_MTLSSubstitute(t *testing.T) {
	tokens := newFakeTokens()
	taskID := dap.TaskId{3}
	policy := &MTLSPolicy{RequiredIssuer: "CN=dap-ca", AcceptableSubjects: []string{"CN=leader.example"}}
	a := NewAuthenticator(tokens, policy)

	abort, err := a.Check(context.Background(), Request{
		TaskID:    &taskID,
		MediaType: codec.MediaTypeAggregationJobInitReq,
		Auth:      ClientCertAuth{Issuer: "CN=dap-ca", Subject: "CN=leader.example"},
	})
	require.NoError(t, err)
	assert.Nil(t, abort)

	abort, err = a.Check(context.Background(), Request{
		TaskID:    &taskID,
		MediaType: codec.MediaTypeAggregationJobInitReq,
		Auth:      ClientCertAuth{Issuer: "CN=dap-ca", Subject: "CN=someone-else"},
	})
	require.NoError(t, err)
	require.NotNil(t, abort)
}

func TestBearerToken_Equal_ConstantTime(t *testing.T) {
	a := NewBearerToken("abc")
	b := NewBearerToken("abc")
	c := NewBearerToken("abd")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestAuthorize_RejectsNonLeaderMediaType(t *testing.T) {
	tokens := newFakeTokens()
	taskID := dap.TaskId{1}
	_, err := Authorize(context.Background(), tokens, taskID, codec.MediaTypeReport)
	assert.Error(t, err)
}

func TestAuthorize_ReturnsConfiguredToken(t *testing.T) {
	tokens := newFakeTokens()
	taskID := dap.TaskId{1}
	tokens.leader[taskID] = NewBearerToken("leader-secret")

	got, err := Authorize(context.Background(), tokens, taskID, codec.MediaTypeAggregationJobInitReq)
	require.NoError(t, err)
	assert.True(t, got.Equal(NewBearerToken("leader-secret")))
}
