package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"

	"github.com/worthym330/innovate-calls/internal/config"
	"github.com/worthym330/innovate-calls/internal/core"
)

var (
	audioHeaderExtensions = []string{
		sdp.SDESMidURI,
		sdp.AudioLevelURI,
	}
	videoHeaderExtensions = []string{
		sdp.SDESMidURI,
		sdp.SDESRTPStreamIDURI,
		sdp.TransportCCURI,
	}

	videoRTCPFeedback = []webrtc.RTCPFeedback{
		{Type: webrtc.TypeRTCPFBGoogREMB},
		{Type: webrtc.TypeRTCPFBTransportCC},
		{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
		{Type: webrtc.TypeRTCPFBNACK},
		{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
	}
)

// newPeerConnection builds a connection with only the codecs the call's
// media kind needs registered. STUN only: candidate discovery beyond
// STUN is a known limitation.
func newPeerConnection(cfg config.RTCConfig, kind core.MediaKind) (*webrtc.PeerConnection, error) {
	mediaEngine, err := createMediaEngine(kind)
	if err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(registry),
	)

	stunServers := cfg.StunServers
	if len(stunServers) == 0 {
		stunServers = config.DefaultStunServers
	}

	return api.NewPeerConnection(webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	})
}

func createMediaEngine(kind core.MediaKind) (*webrtc.MediaEngine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := registerCodecs(mediaEngine, kind); err != nil {
		return nil, err
	}
	if err := registerHeaderExtensions(mediaEngine, kind); err != nil {
		return nil, err
	}

	return mediaEngine, nil
}

func registerCodecs(mediaEngine *webrtc.MediaEngine, kind core.MediaKind) error {
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    1,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return err
	}

	if kind != core.VideoCall {
		return nil
	}

	return mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeVP8,
			ClockRate:    90000,
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo)
}

func registerHeaderExtensions(mediaEngine *webrtc.MediaEngine, kind core.MediaKind) error {
	for _, extension := range audioHeaderExtensions {
		if err := mediaEngine.RegisterHeaderExtension(
			webrtc.RTPHeaderExtensionCapability{URI: extension}, webrtc.RTPCodecTypeAudio,
		); err != nil {
			return err
		}
	}

	if kind != core.VideoCall {
		return nil
	}

	for _, extension := range videoHeaderExtensions {
		if err := mediaEngine.RegisterHeaderExtension(
			webrtc.RTPHeaderExtensionCapability{URI: extension}, webrtc.RTPCodecTypeVideo,
		); err != nil {
			return err
		}
	}

	return nil
}
