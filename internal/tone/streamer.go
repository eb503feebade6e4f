package tone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacketBytes comfortably holds any packet the encoder can emit for a
// single frame.
const maxOpusPacketBytes = 4000

// Streamer encodes Source frames with Opus and writes them onto a local
// track at the Pacer's schedule.
type Streamer struct {
	log    *slog.Logger
	params Params
	src    *Source
	pacer  *Pacer
	enc    *opus.Encoder
	track  *webrtc.TrackLocalStaticSample
	buf    []byte
}

func NewStreamer(params Params, track *webrtc.TrackLocalStaticSample, logger *slog.Logger) (*Streamer, error) {
	src, err := NewSource(params)
	if err != nil {
		return nil, err
	}

	enc, err := opus.NewEncoder(params.SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	return &Streamer{
		log:    logger,
		params: params,
		src:    src,
		pacer:  NewPacer(params.SampleRate),
		enc:    enc,
		track:  track,
		buf:    make([]byte, maxOpusPacketBytes),
	}, nil
}

// Run streams frames until ctx is cancelled, which is the normal way to stop
// and returns nil. Encoder or track failures end the stream with an error.
func (st *Streamer) Run(ctx context.Context) error {
	st.log.Debug("tone streamer started",
		"frequency_hz", st.params.FrequencyHz,
		"sample_rate", st.params.SampleRate,
		"frame_duration", st.params.FrameDuration,
	)

	for {
		frame := st.src.NextFrame()

		if err := st.pacer.Wait(ctx, frame.Timestamp); err != nil {
			return nil
		}

		n, err := st.enc.Encode(frame.Samples, st.buf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}

		err = st.track.WriteSample(media.Sample{
			Data:     st.buf[:n],
			Duration: st.params.FrameDuration,
		})
		if err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				// Track unbound, the peer connection is gone.
				return nil
			}
			return fmt.Errorf("write tone sample: %w", err)
		}
	}
}
