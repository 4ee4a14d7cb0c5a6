package handlers

const (
	// DefaultJobClaimLimit bounds how many jobs a single poll hands back,
	// keeping one slow agent from starving the visibility-timeout window
	// of every other job assigned to it at once.
	DefaultJobClaimLimit = 10

	// DefaultAgentPageSize is used when an admin list request omits
	// pageSize.
	DefaultAgentPageSize = 50

	// MaxAgentPageSize bounds the admin list endpoint regardless of what
	// a caller requests.
	MaxAgentPageSize = 500
)
