package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/internal/metrics"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// ChannelLabel is the data channel the browser must open in its offer
const ChannelLabel = "alerts"

// ErrTooManyClients is returned by HandleOffer when the client cap is reached
var ErrTooManyClients = errors.New("maximum clients reached")

// Message is one data channel payload
type Message struct {
	Type      string             `json:"type"` // "status" or "event"
	SessionID string             `json:"session_id,omitempty"`
	Status    *types.FrameStatus `json:"status,omitempty"`
	Event     *eventlog.Entry    `json:"event,omitempty"`
}

// Client represents a connected WebRTC peer
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	sendChan  chan []byte
	closeChan chan struct{}

	mu      sync.Mutex
	channel *webrtc.DataChannel // set once the alerts channel opens

	sent    uint64
	dropped uint64
}

// Server manages WebRTC peers that receive alert status over a data channel
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server. m may be nil.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer answers a browser offer and returns the local description as JSON
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.SDP == "" {
		return nil, errors.New("offer has no sdp")
	}

	if s.ClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		sendChan:  make(chan []byte, 30),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			logger.Debug("WebRTC", "Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.mu.Lock()
			client.channel = dc
			client.mu.Unlock()
			logger.Info("WebRTC", "Client %s alert channel open", client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (%s), removing...", client.id, state.String())
			go s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveClients.Add(1)
		s.metrics.TotalClients.Add(1)
	}

	go s.sendMessages(client)
	logger.Info("WebRTC", "Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, errors.New("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// Show pushes the frame status to every peer. It never blocks.
func (s *Server) Show(_ *types.Frame, status types.FrameStatus) {
	s.broadcast(Message{Type: "status", Status: &status})
}

// Name identifies the server as an event sink
func (s *Server) Name() string { return "webrtc" }

// Deliver pushes a logged event to every peer
func (s *Server) Deliver(sessionID string, e eventlog.Entry) error {
	s.broadcast(Message{Type: "event", SessionID: sessionID, Event: &e})
	return nil
}

func (s *Server) broadcast(msg Message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	if len(s.clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("WebRTC", "Failed to marshal %s message: %v", msg.Type, err)
		return
	}
	for _, client := range s.clients {
		select {
		case client.sendChan <- data:
		default:
			client.mu.Lock()
			client.dropped++
			client.mu.Unlock()
		}
	}
}

func (s *Server) sendMessages(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case data := <-client.sendChan:
			client.mu.Lock()
			dc := client.channel
			client.mu.Unlock()
			if dc == nil {
				continue // channel not open yet
			}
			if err := dc.SendText(string(data)); err != nil {
				logger.Warn("WebRTC", "Error sending to client %s: %v", client.id, err)
				continue
			}
			client.mu.Lock()
			client.sent++
			client.mu.Unlock()
		}
	}
}

// RemoveClient closes and forgets a client. Unknown ids are ignored.
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()
	if !exists {
		return
	}

	close(client.closeChan)
	client.peerConn.Close()
	if s.metrics != nil {
		s.metrics.ActiveClients.Add(^uint64(0))
	}

	client.mu.Lock()
	sent, dropped := client.sent, client.dropped
	client.mu.Unlock()
	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)", clientID, sent, dropped)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
