package youtube

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yt "google.golang.org/api/youtube/v3"
)

func TestResolveUploadsCall(t *testing.T) {
	ctx := context.Background()

	t.Run("returns uploads playlist", func(t *testing.T) {
		svc := &fakeService{listChannels: func(ids, parts []string) ([]*yt.Channel, error) {
			assert.Equal(t, []string{"UCabc"}, ids)
			assert.Equal(t, []string{"contentDetails"}, parts)
			return []*yt.Channel{{
				Id: "UCabc",
				ContentDetails: &yt.ChannelContentDetails{
					RelatedPlaylists: &yt.ChannelContentDetailsRelatedPlaylists{Uploads: "UUabc"},
				},
			}}, nil
		}}

		res, err := ResolveUploadsCall{ChannelID: "UCabc"}.Perform(ctx, svc)
		require.NoError(t, err)
		assert.Equal(t, "UUabc", res.Payload)
		assert.Equal(t, 1, res.Cost)
	})

	t.Run("unknown channel is permanent", func(t *testing.T) {
		_, err := ResolveUploadsCall{ChannelID: "UCnope"}.Perform(ctx, &fakeService{})
		assert.True(t, IsPermanent(err))
		assert.ErrorIs(t, err, ErrChannelNotFound)
	})

	t.Run("channel without uploads is permanent", func(t *testing.T) {
		svc := &fakeService{listChannels: func(_, _ []string) ([]*yt.Channel, error) {
			return []*yt.Channel{{Id: "UCabc"}}, nil
		}}
		_, err := ResolveUploadsCall{ChannelID: "UCabc"}.Perform(ctx, svc)
		assert.True(t, IsPermanent(err))
		assert.ErrorIs(t, err, ErrNoUploadsCollection)
	})

	t.Run("transport errors stay retryable", func(t *testing.T) {
		svc := &fakeService{listChannels: func(_, _ []string) ([]*yt.Channel, error) {
			return nil, errors.New("503")
		}}
		_, err := ResolveUploadsCall{ChannelID: "UCabc"}.Perform(ctx, svc)
		require.Error(t, err)
		assert.False(t, IsPermanent(err))
	})
}

func TestPlaylistPageCall(t *testing.T) {
	var gotMax int64
	svc := &fakeService{playlistItems: func(id, token string, maxResults int64) (*yt.PlaylistItemListResponse, error) {
		gotMax = maxResults
		assert.Equal(t, "UUabc", id)
		assert.Equal(t, "next", token)
		return &yt.PlaylistItemListResponse{NextPageToken: "after"}, nil
	}}

	res, err := PlaylistPageCall{PlaylistID: "UUabc", PageToken: "next", MaxResults: 500}.Perform(context.Background(), svc)
	require.NoError(t, err)
	assert.Equal(t, int64(MaxIDsPerCall), gotMax)
	assert.Equal(t, "after", res.Payload.NextPageToken)
}

func TestDetailsCallsRejectOversizedChunks(t *testing.T) {
	ids := make([]string, MaxIDsPerCall+1)
	svc := &fakeService{}

	_, err := VideoDetailsCall{IDs: ids}.Perform(context.Background(), svc)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, ErrTooManyIDs)

	_, err = ChannelDetailsCall{IDs: nil}.Perform(context.Background(), svc)
	assert.True(t, IsPermanent(err))

	assert.Zero(t, svc.callCount())
}

func TestVideoDetailsCallDefaultsParts(t *testing.T) {
	var gotParts []string
	svc := &fakeService{listVideos: func(ids, parts []string) ([]*yt.Video, error) {
		gotParts = parts
		return []*yt.Video{{Id: ids[0]}}, nil
	}}

	res, err := VideoDetailsCall{IDs: []string{"a"}}.Perform(context.Background(), svc)
	require.NoError(t, err)
	assert.Equal(t, VideoDefaultParts, gotParts)
	assert.Len(t, res.Payload, 1)

	_, err = VideoDetailsCall{IDs: []string{"a"}, Parts: VideoStatsParts}.Perform(context.Background(), svc)
	require.NoError(t, err)
	assert.Equal(t, VideoStatsParts, gotParts)
}

func TestChannelByHandleCall(t *testing.T) {
	svc := &fakeService{byHandle: func(handle string) ([]*yt.Channel, error) {
		return []*yt.Channel{{Id: "UC" + handle[1:]}}, nil
	}}

	res, err := ChannelByHandleCall{Handle: "@abc"}.Perform(context.Background(), svc)
	require.NoError(t, err)
	require.Len(t, res.Payload, 1)
	assert.Equal(t, "UCabc", res.Payload[0].Id)

	_, err = ChannelByHandleCall{}.Perform(context.Background(), svc)
	assert.True(t, IsPermanent(err))
}
