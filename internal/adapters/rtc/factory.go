package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/ucsaes/MSH-mock/internal/core"
)

const (
	roleClient = "client"
	roleGpu    = "gpu"
)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: iceServers,
			},
		},
	}
}

// Factory builds peers for both hops. The client-facing API carries an
// interval PLI interceptor so the browser keeps emitting keyframes the GPU
// can start decoding from.
type Factory struct {
	cfg       webrtc.Configuration
	clientAPI *webrtc.API
	gpuAPI    *webrtc.API
}

var _ core.PeerFactory = (*Factory)(nil)

func NewFactory(iceServers []string, pliInterval time.Duration, loggers logging.LoggerFactory) (*Factory, error) {
	settings := webrtc.SettingEngine{}
	if loggers != nil {
		settings.LoggerFactory = loggers
	}

	clientAPI, err := newAPI(settings, pliInterval)
	if err != nil {
		return nil, fmt.Errorf("client api: %w", err)
	}
	gpuAPI, err := newAPI(settings, 0)
	if err != nil {
		return nil, fmt.Errorf("gpu api: %w", err)
	}
	return &Factory{
		cfg:       DefaultWebRTCConfig(iceServers),
		clientAPI: clientAPI,
		gpuAPI:    gpuAPI,
	}, nil
}

func newAPI(settings webrtc.SettingEngine, pliInterval time.Duration) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	if pliInterval > 0 {
		pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(pliInterval))
		if err != nil {
			return nil, fmt.Errorf("failed to create PLI factory: %w", err)
		}
		registry.Add(pli)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	), nil
}

func (f *Factory) NewClientPeer(sid core.SessionID) (core.MediaConnection, error) {
	return newWebRTCConnection(f.clientAPI, f.cfg, sid, roleClient)
}

func (f *Factory) NewGpuPeer(sid core.SessionID) (core.MediaConnection, error) {
	return newWebRTCConnection(f.gpuAPI, f.cfg, sid, roleGpu)
}
