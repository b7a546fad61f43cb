package constants

// Stream connection defaults
const (
	DefaultKeepaliveSec           = 30
	DefaultReconnectBaseMs        = 1000
	DefaultReconnectMaxMs         = 30000
	DefaultStreamConnectTimeoutMs = 10000
	KeepalivePing                 = "ping"
	KeepalivePong                 = "pong"
)

// Paging defaults
const (
	DefaultTimelinePageSize  = 50
	DefaultDirectoryPageSize = 50
	MaxPageSize              = 500
)

// Bot API defaults
const (
	DefaultBotTimeoutMs         = 15000
	DefaultBreakerMaxFailures   = 5
	DefaultBreakerCooldownSec   = 30
	DefaultBotBreakerName       = "bot-api"
	DefaultMaxResponseBodyBytes = 10 << 20
	DefaultMaxTextMessageRunes  = 4096
	MaxConversationIDLength     = 128
)

// Journal and server defaults
const (
	DefaultRetentionDays          = 30
	DefaultRetryBackoffMs         = 1000
	DefaultMaxBackoffMs           = 60000
	DefaultMaxAttempts            = 5
	DefaultDatabaseRetryAttempts  = 3
	CleanupSchedulerIntervalHours = 24
	DefaultServerPort             = 8085
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 60
	DefaultServerIdleTimeoutSec   = 60
	DefaultGracefulShutdownSec    = 30
	ServerErrorChannelSize        = 1
	DefaultConfigPollIntervalSec  = 5
	DefaultMutationListLimit      = 100
	DefaultEventRelayBuffer       = 64
	DefaultRateLimitRPS           = 20
	DefaultRateLimitBurst         = 40
	RateLimiterIdleTTLMinutes     = 10
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

// Column encryption: AES-256-GCM keyed by PBKDF2-SHA256
const (
	EncryptionSalt       = "waconsole-journal-v1"
	EncryptionLookupSalt = "waconsole-journal-lookup-v1"
	EncryptionKeySize    = 32
	EncryptionNonceSize  = 12
	EncryptionIterations = 100000
)
