package channel

import "time"

// PlatformType identifies the messaging network behind a channel.
type PlatformType string

const (
	PlatformWhatsApp PlatformType = "whatsapp"
	PlatformTelegram PlatformType = "telegram"
	PlatformWeChat   PlatformType = "wechat"
	PlatformWidget   PlatformType = "widget"
	PlatformFacebook PlatformType = "facebook"
)

// ChannelStatus reflects the persisted connection state of a channel.
type ChannelStatus string

const (
	StatusPending    ChannelStatus = "pending"
	StatusOnline     ChannelStatus = "online"
	StatusOffline    ChannelStatus = "offline"
	StatusConnecting ChannelStatus = "connecting"
	StatusError      ChannelStatus = "error"
)

// Settings holds per-channel auto-reply tuning.
type Settings struct {
	ReplyDelaySeconds int     `json:"reply_delay_seconds"`
	ReplyProbability  float64 `json:"reply_probability"`
}

// Channel is one configured connection to a messaging platform.
// Channels are never hard-deleted while messages reference them; they
// transition to offline instead.
type Channel struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      PlatformType  `json:"type"`
	Status    ChannelStatus `json:"status"`
	AgentID   string        `json:"agent_id,omitempty"`
	AutoReply bool          `json:"auto_reply"`
	Phone     string        `json:"phone,omitempty"`
	// TokenRef points at the stored session credential, not the credential itself.
	TokenRef  string    `json:"token_ref,omitempty"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
