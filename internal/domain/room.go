package domain

type RoomID string

// MediaState mirrors a participant's camera/microphone toggles.
// Purely advisory; media itself flows peer to peer.
type MediaState struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}
