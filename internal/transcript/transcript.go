// Package transcript emits synthetic transcription results on a fixed
// cadence, standing in for a real speech recognizer.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// sentences is the pool of canned results. The emitter cycles through it in
// order and wraps around.
var sentences = []string{
	"Patient presents with mild respiratory symptoms.",
	"Blood pressure reading: 120/80 mmHg, within normal range.",
	"Heart rate is 72 bpm, rhythm appears regular.",
	"Oxygen saturation at 98% on room air.",
	"No signs of acute distress observed.",
	"Lung auscultation reveals clear bilateral breath sounds.",
	"Temperature is 98.6°F, afebrile.",
	"Patient reports no allergies to medications.",
}

// Transcription is one synthetic recognizer result.
type Transcription struct {
	Text string

	// Timestamp is seconds since the Unix epoch, fractional part included.
	Timestamp float64
}

// Emitter pushes a Transcription to a send callback once per interval.
// It is not safe for concurrent use; each session owns its own Emitter.
type Emitter struct {
	log      *slog.Logger
	interval time.Duration
	pool     []string
	next     int
	now      func() time.Time
	send     func(Transcription) error
}

// NewEmitter builds an Emitter that delivers results through send. The
// interval must be positive.
func NewEmitter(interval time.Duration, send func(Transcription) error, logger *slog.Logger) *Emitter {
	return &Emitter{
		log:      logger,
		interval: interval,
		pool:     sentences,
		now:      time.Now,
		send:     send,
	}
}

// Run emits until ctx is cancelled, which is the normal way to stop and
// returns nil. A send failure ends the run with an error; the caller owns
// the connection and decides what to do with it.
func (e *Emitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tr := e.nextTranscription()
			if err := e.send(tr); err != nil {
				return fmt.Errorf("send transcription: %w", err)
			}
			e.log.Debug("transcription sent", "text", tr.Text)
		}
	}
}

func (e *Emitter) nextTranscription() Transcription {
	text := e.pool[e.next%len(e.pool)]
	e.next++
	return Transcription{
		Text:      text,
		Timestamp: float64(e.now().UnixNano()) / float64(time.Second),
	}
}
