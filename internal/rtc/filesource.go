package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const oggPageDuration = 20 * time.Millisecond

// FileSource is a headless media source: it plays an Ogg/Opus file as
// the audio track and an IVF/VP8 file as the video track. Used by the
// softphone and by soak setups without capture hardware.
type FileSource struct {
	AudioPath string
	VideoPath string
}

func (f *FileSource) Capture(constraints CaptureConstraints) (*LocalStream, error) {
	audioFile, err := os.Open(f.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("rtc: open audio file: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "innovate-calls",
	)
	if err != nil {
		audioFile.Close()
		return nil, err
	}

	tracks := []webrtc.TrackLocal{audioTrack}

	var videoFile *os.File
	var videoTrack *webrtc.TrackLocalStaticSample
	if constraints.Video != nil {
		videoFile, err = os.Open(f.VideoPath)
		if err != nil {
			audioFile.Close()
			return nil, fmt.Errorf("rtc: open video file: %w", err)
		}

		videoTrack, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "innovate-calls",
		)
		if err != nil {
			audioFile.Close()
			videoFile.Close()
			return nil, err
		}
		tracks = append(tracks, videoTrack)
	}

	stream := NewLocalStream(constraints, tracks)
	stream.addPump(func(ctx context.Context) {
		defer audioFile.Close()
		if err := pumpOgg(ctx, audioFile, audioTrack); err != nil {
			log.Error().Err(err).Str("service", "rtc").Msg("audio pump stopped")
		}
	})

	if videoTrack != nil {
		stream.addPump(func(ctx context.Context) {
			defer videoFile.Close()
			if err := pumpIVF(ctx, videoFile, videoTrack); err != nil {
				log.Error().Err(err).Str("service", "rtc").Msg("video pump stopped")
			}
		})
	}

	return stream, nil
}

func pumpOgg(ctx context.Context, file io.ReadSeeker, track *webrtc.TrackLocalStaticSample) error {
	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		return err
	}

	var lastGranule uint64

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		sampleCount := pageHeader.GranulePosition - lastGranule
		lastGranule = pageHeader.GranulePosition
		sampleDuration := time.Duration(sampleCount) * time.Second / 48000

		if err := track.WriteSample(media.Sample{Data: pageData, Duration: sampleDuration}); err != nil {
			return err
		}
	}
}

func pumpIVF(ctx context.Context, file io.Reader, track *webrtc.TrackLocalStaticSample) error {
	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		return err
	}

	// Pace frames at the file's timebase so the receiver is not flooded.
	frameDuration := time.Millisecond * time.Duration(
		(float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000,
	)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}
