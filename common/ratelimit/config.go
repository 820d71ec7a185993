package ratelimit

// Session actions subject to per-user limits
const (
	ActionConnect = "connect"
	ActionSubmit  = "submit"
	ActionVote    = "vote"
	ActionWhatIf  = "what_if"
)

// ActionConfig defines the rate limit for one session action
type ActionConfig struct {
	Action        string
	Limit         int64  // Requests allowed per window
	WindowSeconds int    // Time window in seconds
	Description   string // Human-readable description
}

// Default per-action configurations. Submissions are naturally throttled
// by the turn rotation; the limits here only stop floods from misbehaving
// clients.
var DefaultActionConfigs = map[string]ActionConfig{
	ActionConnect: {
		Action:        ActionConnect,
		Limit:         30,
		WindowSeconds: 60,
		Description:   "Channel connects - 30/minute",
	},
	ActionSubmit: {
		Action:        ActionSubmit,
		Limit:         20,
		WindowSeconds: 60,
		Description:   "Story contributions - 20/minute",
	},
	ActionVote: {
		Action:        ActionVote,
		Limit:         60,
		WindowSeconds: 60,
		Description:   "Branch votes - 60/minute",
	},
	ActionWhatIf: {
		Action:        ActionWhatIf,
		Limit:         10,
		WindowSeconds: 60,
		Description:   "What-if queries - 10/minute (each miss is an AI call)",
	},
}

// GlobalConfig contains global service-wide limits
type GlobalConfig struct {
	Limit         int64 // Total requests per window (all users)
	WindowSeconds int   // Time window
}

// Default global configuration
var DefaultGlobalConfig = GlobalConfig{
	Limit:         1000,
	WindowSeconds: 60,
}

// GetLimitForAction returns the configuration for an action. Unknown
// actions fall back to the most restrictive configured limit.
func GetLimitForAction(action string) ActionConfig {
	if cfg, exists := DefaultActionConfigs[action]; exists {
		return cfg
	}
	return DefaultActionConfigs[ActionWhatIf]
}

// GetAllActions returns all configured actions for documentation/API responses
func GetAllActions() []ActionConfig {
	return []ActionConfig{
		DefaultActionConfigs[ActionConnect],
		DefaultActionConfigs[ActionSubmit],
		DefaultActionConfigs[ActionVote],
		DefaultActionConfigs[ActionWhatIf],
	}
}
