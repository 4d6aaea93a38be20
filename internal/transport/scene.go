package transport

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
	"github.com/jeffers-sub/classicbrowsercore/internal/core/viewpool"
)

// sceneCommand is the wire frame for a scene-graph primitive: what the host
// shell's actual compositor (outside this module) executes against its own
// view stack.
type sceneCommand struct {
	Type     string           `json:"type"`
	WindowID types.WindowId   `json:"windowId"`
	TabID    types.TabId      `json:"tabId"`
	Bounds   *types.Bounds    `json:"bounds,omitempty"`
	Visible  *bool            `json:"visible,omitempty"`
}

// HubScene implements viewmanager.Scene by forwarding every primitive to the
// connected host shell as a websocket frame, rather than compositing
// anything itself — the Go process never owns pixels, only the renderers'
// lifecycle and the authoritative state describing where they should sit.
type HubScene struct {
	hub *Hub
	log *zap.Logger
}

// NewHubScene constructs a Scene that broadcasts through hub.
func NewHubScene(hub *Hub, log *zap.Logger) *HubScene {
	if log == nil {
		log = zap.NewNop()
	}
	return &HubScene{hub: hub, log: log}
}

func (s *HubScene) send(cmd sceneCommand) {
	payload, err := json.Marshal(struct {
		Type    string       `json:"type"`
		Payload sceneCommand `json:"payload"`
	}{Type: "classic-browser:scene", Payload: cmd})
	if err != nil {
		s.log.Warn("failed to marshal scene command", zap.Error(err))
		return
	}
	s.hub.broadcastRaw(payload)
}

// Attach implements viewmanager.Scene.
func (s *HubScene) Attach(windowID types.WindowId, renderer viewpool.Renderer, bounds types.Bounds) {
	b := bounds
	s.send(sceneCommand{Type: "attach", WindowID: windowID, TabID: renderer.TabID(), Bounds: &b})
}

// Detach implements viewmanager.Scene.
func (s *HubScene) Detach(windowID types.WindowId, renderer viewpool.Renderer) {
	s.send(sceneCommand{Type: "detach", WindowID: windowID, TabID: renderer.TabID()})
}

// SetVisible implements viewmanager.Scene.
func (s *HubScene) SetVisible(windowID types.WindowId, renderer viewpool.Renderer, visible bool) {
	v := visible
	s.send(sceneCommand{Type: "set-visible", WindowID: windowID, TabID: renderer.TabID(), Visible: &v})
}

// BringToTop implements viewmanager.Scene.
func (s *HubScene) BringToTop(windowID types.WindowId, renderer viewpool.Renderer) {
	s.send(sceneCommand{Type: "bring-to-top", WindowID: windowID, TabID: renderer.TabID()})
}
