package live

import "github.com/farmdepot-ng/voicelink/pkg/channel"

// SessionState is the lifecycle state of the session controller.
type SessionState int

const (
	// StateIdle is the initial state; no channel or capture is held.
	StateIdle SessionState = iota
	// StateConnecting covers microphone acquisition and channel dialing.
	StateConnecting
	// StateActive is a fully wired, live conversation.
	StateActive
	// StateError is reached after a permission or channel failure.
	StateError
	// StateOffline is reached when the remote side closes the channel.
	StateOffline
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateError:
		return "ERROR"
	case StateOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// Status labels shown to the user. No raw internal error ever surfaces here.
const (
	StatusReady      = "Ready"
	StatusConnecting = "Connecting..."
	StatusActive     = "Active"
	StatusError      = "Error"
	StatusOffline    = "Offline"
	StatusPermsError = "Perms Error"
)

// Language is one supported conversation language.
type Language struct {
	ID    string
	Label string
	Code  string
}

// SupportedLanguages mirrors the assistant's language selector.
var SupportedLanguages = []Language{
	{ID: "0", Label: "English", Code: "en"},
	{ID: "1", Label: "Hausa", Code: "ha"},
	{ID: "2", Label: "Igbo", Code: "ig"},
	{ID: "3", Label: "Yoruba", Code: "yo"},
	{ID: "4", Label: "Nigerian Pidgin", Code: "pcm"},
}

// LanguageByID looks up a supported language by selector id.
func LanguageByID(id string) (Language, bool) {
	for _, l := range SupportedLanguages {
		if l.ID == id {
			return l, true
		}
	}
	return Language{}, false
}

// SessionConfig holds all configuration for one session controller.
type SessionConfig struct {
	// Model is the remote agent model identifier.
	Model string

	// SystemInstruction is the persona prompt sent at channel open.
	SystemInstruction string

	// Voice is the prebuilt voice name for synthesized speech.
	Voice string

	// WebsiteURL is the navigation target base for tool calls.
	WebsiteURL string

	// LanguageID is the initially selected language (selector id).
	LanguageID string

	// Capture is the microphone format. Default: 16 kHz mono.
	Capture AudioFormat

	// Playback is the agent speech format. Default: 24 kHz mono.
	Playback AudioFormat

	// FrameSamples is the fixed capture frame size. Default: 4096.
	FrameSamples int

	// Tools is the advertised tool surface. Default: MarketplaceTools.
	Tools []channel.ToolDeclaration
}

// DefaultSessionConfig returns the assistant's production configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:             DefaultModel,
		SystemInstruction: SystemInstruction,
		Voice:             DefaultVoice,
		WebsiteURL:        WebsiteURL,
		LanguageID:        "0",
		Capture:           DefaultCaptureFormat(),
		Playback:          DefaultPlaybackFormat(),
		FrameSamples:      4096,
		Tools:             MarketplaceTools(),
	}
}

func (c *SessionConfig) applyDefaults() {
	if c.Capture.SampleRateHz == 0 {
		c.Capture = DefaultCaptureFormat()
	}
	if c.Playback.SampleRateHz == 0 {
		c.Playback = DefaultPlaybackFormat()
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = 4096
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.WebsiteURL == "" {
		c.WebsiteURL = WebsiteURL
	}
	if c.LanguageID == "" {
		c.LanguageID = "0"
	}
	if len(c.Tools) == 0 {
		c.Tools = MarketplaceTools()
	}
}
