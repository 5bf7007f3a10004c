package auth

// ICEServer is one reachability-helper endpoint (STUN or TURN) handed to
// clients for connection attempts. Matches the webrtc ICEServer shape.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEConfigProvider is the GetTurnStunConfig collaborator surface.
type ICEConfigProvider interface {
	ICEServers() []ICEServer
}

// StaticICEConfig serves a fixed list from configuration.
type StaticICEConfig []ICEServer

func (s StaticICEConfig) ICEServers() []ICEServer { return s }
