package domain

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// QueueSnapshot is the serialized form of a session written to the
// persistence gateway after every mutation. It carries enough state to
// rebuild a session's queue after a process restart.
type QueueSnapshot struct {
	GuildID   snowflake.ID `json:"guild_id"`
	Tracks    []*Track     `json:"tracks"`
	Current   *Track       `json:"current,omitempty"`
	Volume    int          `json:"volume"`
	LoopMode  LoopMode     `json:"loop_mode"`
	Playing   bool         `json:"playing"`
	UpdatedAt time.Time    `json:"updated_at"`
}
