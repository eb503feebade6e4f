// Package recorder writes received WebRTC media to WebM files on disk.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

const (
	// maxLatePackets is how many packets the sample builders hold while
	// waiting for reordered packets before giving up on a frame.
	maxLatePackets = 10

	opusClockRate = 48000
	vp8ClockRate  = 90000
)

// Recorder assembles RTP from remote tracks into one WebM file. Tracks are
// attached as they arrive, but nothing reaches the disk until the first VP8
// keyframe: the WebM header needs the video dimensions, which only a
// keyframe carries. Audio received before that point is discarded.
type Recorder struct {
	log  *slog.Logger
	path string

	mu           sync.Mutex
	file         *os.File
	audioBuilder *samplebuilder.SampleBuilder
	videoBuilder *samplebuilder.SampleBuilder
	audioWriter  webm.BlockWriteCloser
	videoWriter  webm.BlockWriteCloser
	audioTime    time.Duration
	videoTime    time.Duration
	stopped      bool
}

// New creates the recording file under dir, named by the second now falls
// in. The file stays empty until video arrives; Stop removes it if nothing
// was ever written.
func New(dir string, now time.Time, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}

	path, file, err := createRecordingFile(dir, now)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	return &Recorder{
		log:          logger,
		path:         path,
		file:         file,
		audioBuilder: samplebuilder.New(maxLatePackets, &codecs.OpusPacket{}, opusClockRate),
		videoBuilder: samplebuilder.New(maxLatePackets, &codecs.VP8Packet{}, vp8ClockRate),
	}, nil
}

// createRecordingFile opens the recording exclusively. Sessions starting in
// the same second must not truncate each other's file, so collisions get a
// numeric suffix instead.
func createRecordingFile(dir string, now time.Time) (string, *os.File, error) {
	base := fmt.Sprintf("recording_%d", now.Unix())
	for n := 0; n < 1000; n++ {
		name := base + ".webm"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.webm", base, n)
		}
		path := filepath.Join(dir, name)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, file, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("no free recording name for %s", base)
}

// Path reports where the recording is (or would be) written.
func (r *Recorder) Path() string {
	return r.path
}

// AddTrack starts pumping RTP from the track into the recording. Tracks with
// codecs the WebM container can't hold are ignored.
func (r *Recorder) AddTrack(track *webrtc.TrackRemote) {
	mime := track.Codec().MimeType
	switch {
	case track.Kind() == webrtc.RTPCodecTypeAudio && mime == webrtc.MimeTypeOpus:
		go r.pump(track, r.pushOpus)
	case track.Kind() == webrtc.RTPCodecTypeVideo && mime == webrtc.MimeTypeVP8:
		go r.pump(track, r.pushVP8)
	default:
		r.log.Warn("not recording track with unsupported codec",
			"kind", track.Kind().String(),
			"mime_type", mime,
		)
	}
}

func (r *Recorder) pump(track *webrtc.TrackRemote, push func(*rtp.Packet)) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Debug("track read ended", "error", err, "track_id", track.ID())
			}
			return
		}
		push(pkt)
	}
}

func (r *Recorder) pushOpus(pkt *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	r.audioBuilder.Push(pkt)
	for {
		sample := r.audioBuilder.Pop()
		if sample == nil {
			return
		}
		if r.audioWriter == nil {
			continue
		}
		r.audioTime += sample.Duration
		if _, err := r.audioWriter.Write(true, int64(r.audioTime/time.Millisecond), sample.Data); err != nil {
			r.log.Error("write audio block", "error", err)
			return
		}
	}
}

func (r *Recorder) pushVP8(pkt *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	r.videoBuilder.Push(pkt)
	for {
		sample := r.videoBuilder.Pop()
		if sample == nil {
			return
		}
		if len(sample.Data) < 10 {
			continue
		}

		keyframe := sample.Data[0]&0x1 == 0
		if keyframe && r.videoWriter == nil {
			width, height := vp8Dimensions(sample.Data)
			if err := r.startLocked(width, height); err != nil {
				r.log.Error("start webm writer", "error", err)
				r.stopped = true
				return
			}
			r.log.Info("recording started",
				"path", r.path,
				"width", width,
				"height", height,
			)
		}
		if r.videoWriter == nil {
			// Still waiting for the first keyframe.
			continue
		}
		r.videoTime += sample.Duration
		if _, err := r.videoWriter.Write(keyframe, int64(r.videoTime/time.Millisecond), sample.Data); err != nil {
			r.log.Error("write video block", "error", err)
			return
		}
	}
}

// vp8Dimensions reads the frame size from an uncompressed VP8 keyframe
// header. The caller has already checked the length.
func vp8Dimensions(data []byte) (width, height int) {
	raw := uint(data[6]) | uint(data[7])<<8 | uint(data[8])<<16 | uint(data[9])<<24
	return int(raw & 0x3FFF), int(raw >> 16 & 0x3FFF)
}

func (r *Recorder) startLocked(width, height int) error {
	writers, err := webm.NewSimpleBlockWriter(r.file, []webm.TrackEntry{
		{
			Name:            "Audio",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         "A_OPUS",
			TrackType:       2,
			DefaultDuration: 20000000,
			Audio: &webm.Audio{
				SamplingFrequency: opusClockRate,
				Channels:          2,
			},
		},
		{
			Name:            "Video",
			TrackNumber:     2,
			TrackUID:        2,
			CodecID:         "V_VP8",
			TrackType:       1,
			DefaultDuration: 33333333,
			Video: &webm.Video{
				PixelWidth:  uint64(width),
				PixelHeight: uint64(height),
			},
		},
	})
	if err != nil {
		return err
	}
	r.audioWriter, r.videoWriter = writers[0], writers[1]
	return nil
}

// Stop finalizes the file and is safe to call more than once. A recording
// that never saw a keyframe is deleted rather than left as an empty file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	audioWriter, videoWriter, file := r.audioWriter, r.videoWriter, r.file
	r.audioWriter, r.videoWriter, r.file = nil, nil, nil
	r.mu.Unlock()

	var errs []error
	if videoWriter == nil {
		// Never started, so nothing useful is on disk.
		if err := file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recording file: %w", err))
		}
		if err := os.Remove(r.path); err != nil {
			errs = append(errs, fmt.Errorf("remove empty recording: %w", err))
		}
		r.log.Debug("discarded recording without video", "path", r.path)
		return errors.Join(errs...)
	}

	// Closing the last block writer finalizes the segment and closes the
	// underlying file.
	if err := audioWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audio writer: %w", err))
	}
	if err := videoWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close video writer: %w", err))
	}
	r.log.Info("recording stopped", "path", r.path)
	return errors.Join(errs...)
}
