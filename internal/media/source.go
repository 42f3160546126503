// Package media produces the local tracks a command line endpoint sends:
// Opus audio from an Ogg file or generated silence, and VP8/VP9 video from
// an IVF file.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/amalgammas/link/internal/peer"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/sirupsen/logrus"
)

const (
	streamID      = "link"
	opusFrame     = 20 * time.Millisecond
	opusClockRate = 48000
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var (
	ErrNoVideoSource    = errors.New("no video source configured")
	ErrUnsupportedCodec = errors.New("unsupported video codec")
)

// Source opens the configured files on demand. An empty AudioFile sends
// silence; an empty VideoFile means video cannot be turned on.
type Source struct {
	AudioFile string
	VideoFile string
}

// Audio starts an Opus track.
func (s *Source) Audio(ctx context.Context) (peer.LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	if s.AudioFile == "" {
		return start(ctx, track, func(ctx context.Context) error {
			return playSilence(ctx, track)
		}), nil
	}

	// Fail now, not on the first tick, when the file is unusable.
	f, err := os.Open(s.AudioFile)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	if _, _, err := oggreader.NewWith(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("read ogg header: %w", err)
	}
	f.Close()

	return start(ctx, track, func(ctx context.Context) error {
		return loop(ctx, s.AudioFile, func(ctx context.Context, r io.Reader) error {
			return playOgg(ctx, track, r)
		})
	}), nil
}

// Video starts a VP8 or VP9 track from the IVF file.
func (s *Source) Video(ctx context.Context) (peer.LocalTrack, error) {
	if s.VideoFile == "" {
		return nil, ErrNoVideoSource
	}

	f, err := os.Open(s.VideoFile)
	if err != nil {
		return nil, fmt.Errorf("open video file: %w", err)
	}
	_, header, err := ivfreader.NewWith(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read ivf header: %w", err)
	}

	mime, err := mimeForFourCC(header.FourCC)
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	return start(ctx, track, func(ctx context.Context) error {
		return loop(ctx, s.VideoFile, func(ctx context.Context, r io.Reader) error {
			return playIVF(ctx, track, r)
		})
	}), nil
}

func mimeForFourCC(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, fourCC)
	}
}

// Track is a sample track fed by a background writer until Stop.
type Track struct {
	*webrtc.TrackLocalStaticSample

	cancel context.CancelFunc
	done   chan struct{}
}

func start(ctx context.Context, track *webrtc.TrackLocalStaticSample, feed func(context.Context) error) *Track {
	ctx, cancel := context.WithCancel(ctx)
	t := &Track{TrackLocalStaticSample: track, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		if err := feed(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).WithField("track", track.ID()).Warn("media writer stopped")
		}
	}()
	return t
}

// Stop ends the writer and waits for it. Safe to call more than once.
func (t *Track) Stop() {
	t.cancel()
	<-t.done
}

// loop replays path until ctx is done.
func loop(ctx context.Context, path string, play func(context.Context, io.Reader) error) error {
	for {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		err = play(ctx, f)
		f.Close()
		if err != nil {
			return err
		}
	}
}

func playSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) error {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := track.WriteSample(pmedia.Sample{Data: opusSilence, Duration: opusFrame}); err != nil {
				return err
			}
		}
	}
}

// playOgg writes one Ogg page per tick. It returns nil at end of file.
func playOgg(ctx context.Context, track *webrtc.TrackLocalStaticSample, r io.Reader) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(samples) * time.Second / opusClockRate

		if err := track.WriteSample(pmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}

// playIVF writes one frame per timebase tick. It returns nil at end of file.
func playIVF(ctx context.Context, track *webrtc.TrackLocalStaticSample, r io.Reader) error {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}

	frame := frameDuration(header)
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		data, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := track.WriteSample(pmedia.Sample{Data: data, Duration: frame}); err != nil {
			return err
		}
	}
}

func frameDuration(h *ivfreader.IVFFileHeader) time.Duration {
	if h.TimebaseDenominator == 0 || h.TimebaseNumerator == 0 {
		return 33 * time.Millisecond
	}
	return time.Duration(h.TimebaseNumerator) * time.Second / time.Duration(h.TimebaseDenominator)
}
