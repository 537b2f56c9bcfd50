package game_api_client

const (
	// Room endpoints
	JoinEndpoint        = "/room/join"
	StatusEndpoint      = "/room/status"
	QuickStatusEndpoint = "/room/quick-status"

	// Game endpoints
	SetSecretEndpoint    = "/game/set-secret"
	SelectDigitsEndpoint = "/game/select-digits"
	GuessEndpoint        = "/game/guess"
	HistoryEndpoint      = "/game/history"
	SkipTurnEndpoint     = "/game/skip-turn"
	LeaveEndpoint        = "/game/leave"

	// Liveness / warm-up probe
	HealthEndpoint = "/health"

	// Headers
	IdempotencyKeyHeader = "Idempotency-Key"
	ClientNameHeader     = "X-Client-Name"
	ClientName           = "numguess-sync"
)
