package rtc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Call/internal/domain"
)

func TestAcquireVoiceProducesAudioOnly(t *testing.T) {
	src := NewStaticSource()
	stream, err := src.Acquire(context.Background(), domain.CallTypeVoice)
	require.NoError(t, err)
	defer stream.Release()

	assert.Len(t, stream.Tracks(), 1)
}

func TestAcquireVideoProducesBothTracks(t *testing.T) {
	src := NewStaticSource()
	stream, err := src.Acquire(context.Background(), domain.CallTypeVideo)
	require.NoError(t, err)
	defer stream.Release()

	assert.Len(t, stream.Tracks(), 2)
}

func TestSourceIsSingleOwner(t *testing.T) {
	src := NewStaticSource()
	stream, err := src.Acquire(context.Background(), domain.CallTypeVoice)
	require.NoError(t, err)

	_, err = src.Acquire(context.Background(), domain.CallTypeVoice)
	assert.ErrorIs(t, err, ErrSourceBusy)

	stream.Release()
	stream.Release() // idempotent

	second, err := src.Acquire(context.Background(), domain.CallTypeVideo)
	require.NoError(t, err)
	second.Release()
}

func TestConstraintsRecordedForProducer(t *testing.T) {
	src := NewStaticSource()
	stream, err := src.Acquire(context.Background(), domain.CallTypeVideo)
	require.NoError(t, err)
	defer stream.Release()

	st := stream.(*staticStream)
	want := domain.VideoQualitySettings{Width: 640, Height: 360, FrameRate: 24, TargetBitrate: 700}
	require.NoError(t, st.ApplyVideoConstraints(want))
	assert.Equal(t, want, st.Constraints())
}

func TestReleasedStreamRefusesConstraints(t *testing.T) {
	src := NewStaticSource()
	stream, err := src.Acquire(context.Background(), domain.CallTypeVideo)
	require.NoError(t, err)
	stream.Release()

	st := stream.(*staticStream)
	err = st.ApplyVideoConstraints(domain.VideoQualitySettings{Width: 320, Height: 240})
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestMuteFlags(t *testing.T) {
	src := NewStaticSource()
	stream, err := src.Acquire(context.Background(), domain.CallTypeVoice)
	require.NoError(t, err)
	defer stream.Release()

	st := stream.(*staticStream)
	assert.False(t, st.Muted())
	stream.SetMuted(true)
	assert.True(t, st.Muted())
	stream.SetVideoDisabled(true)
	assert.True(t, st.VideoDisabled())
}
