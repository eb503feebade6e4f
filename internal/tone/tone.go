// Package tone synthesizes the outbound sine-wave audio track.
//
// A Source produces raw PCM frames with sample-domain timestamps; a Pacer
// holds each frame until its wall-clock slot so the stream plays out in real
// time instead of as fast as the encoder allows.
package tone

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Params fixes the shape of the synthetic tone at construction time.
type Params struct {
	FrequencyHz   float64
	SampleRate    int
	FrameDuration time.Duration
	// Amplitude scales the int16 sample range, in (0, 1].
	Amplitude float64
}

func (p Params) validate() error {
	if p.FrequencyHz <= 0 {
		return fmt.Errorf("tone frequency must be > 0, got %v", p.FrequencyHz)
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("tone sample rate must be > 0, got %d", p.SampleRate)
	}
	if p.FrameDuration <= 0 {
		return fmt.Errorf("tone frame duration must be > 0, got %v", p.FrameDuration)
	}
	if p.Amplitude <= 0 || p.Amplitude > 1 {
		return fmt.Errorf("tone amplitude must be in (0, 1], got %v", p.Amplitude)
	}
	if (int64(p.SampleRate)*p.FrameDuration.Nanoseconds())%int64(time.Second) != 0 {
		return fmt.Errorf("frame duration %v does not hold a whole number of samples at %d Hz", p.FrameDuration, p.SampleRate)
	}
	return nil
}

// SamplesPerFrame returns the PCM sample count of one frame.
func (p Params) SamplesPerFrame() int {
	return int(int64(p.SampleRate) * p.FrameDuration.Nanoseconds() / int64(time.Second))
}

// Frame is one mono PCM frame. Timestamp counts samples since stream start,
// so consecutive frames differ by exactly SamplesPerFrame.
type Frame struct {
	Timestamp uint64
	Samples   []int16
}

// Source generates the deterministic sine stream. Not safe for concurrent
// use; each session owns its own Source.
type Source struct {
	params Params
	frame  uint64
}

func NewSource(p Params) (*Source, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Source{params: p}, nil
}

// NextFrame returns the next PCM frame. The sine phase is derived from the
// absolute sample index, so frame boundaries are seamless.
func (s *Source) NextFrame() Frame {
	n := s.params.SamplesPerFrame()
	base := s.frame * uint64(n)
	samples := make([]int16, n)

	scale := s.params.Amplitude * math.MaxInt16
	for i := range samples {
		at := float64(base+uint64(i)) / float64(s.params.SampleRate)
		samples[i] = int16(scale * math.Sin(2*math.Pi*s.params.FrequencyHz*at))
	}

	s.frame++
	return Frame{Timestamp: base, Samples: samples}
}

// Pacer schedules each frame at start + timestamp/sampleRate on the wall
// clock. Sleeping toward an absolute schedule absorbs jitter instead of
// accumulating it.
type Pacer struct {
	sampleRate int
	start      time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewPacer(sampleRate int) *Pacer {
	return &Pacer{
		sampleRate: sampleRate,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Wait blocks until the frame carrying ts is due. The first call pins the
// schedule's start, so the first frame is always due immediately.
func (p *Pacer) Wait(ctx context.Context, ts uint64) error {
	if p.start.IsZero() {
		p.start = p.now()
	}

	due := p.start.Add(sampleOffset(ts, p.sampleRate))
	delay := due.Sub(p.now())
	if delay <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, delay)
}

// sampleOffset converts a sample count to a duration without overflowing on
// long streams.
func sampleOffset(ts uint64, sampleRate int) time.Duration {
	rate := uint64(sampleRate)
	secs := ts / rate
	rem := ts % rate
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(rate)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
