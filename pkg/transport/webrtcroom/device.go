package webrtcroom

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// The media engine and interceptor stack are shared by every room in the
// process and built exactly once.
var (
	deviceMu          sync.Mutex
	deviceInitialized bool
	deviceAPI         *webrtc.API
	deviceInits       int
)

func initDevices() (*webrtc.API, error) {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	if deviceInitialized {
		return deviceAPI, nil
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	deviceAPI = webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir))
	deviceInitialized = true
	deviceInits++
	return deviceAPI, nil
}
