package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Audit event types emitted by the proxy.
const (
	EventTransactionCreated = "transaction_created"
	EventCallbackRejected   = "callback_rejected"
	EventUpstreamExchange   = "upstream_exchange_failed"
	EventProxyCodeIssued    = "proxy_code_issued"
	EventTokenIssued        = "token_issued"
	EventGrantRejected      = "grant_rejected"
	EventClientRegistered   = "client_registered"
	EventTokenRejected      = "token_rejected"
	EventRateLimitExceeded  = "rate_limit_exceeded"
)

// Auditor handles security event logging with credential protection.
// A nil Auditor is valid and discards every event.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	ClientID  string
	IPAddress string
	// TokenRef is a key, code or token the event concerns. It is hashed before logging.
	TokenRef  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with the token reference hashed
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"token_hash", hashForLogging(event.TokenRef),
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTransactionCreated logs the start of an authorize flow
func (a *Auditor) LogTransactionCreated(transactionID, clientID string, scopes []string) {
	a.LogEvent(Event{
		Type:     EventTransactionCreated,
		ClientID: clientID,
		TokenRef: transactionID,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogCallbackRejected logs a callback that failed with a protocol or state error
func (a *Auditor) LogCallbackRejected(state, reason string) {
	a.LogEvent(Event{
		Type:     EventCallbackRejected,
		TokenRef: state,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogUpstreamExchangeFailed logs a failed upstream authorization_code exchange
func (a *Auditor) LogUpstreamExchangeFailed(transactionID string, status int, reason string) {
	a.LogEvent(Event{
		Type:     EventUpstreamExchange,
		TokenRef: transactionID,
		Details: map[string]any{
			"upstream_status": status,
			"reason":          reason,
		},
	})
}

// LogProxyCodeIssued logs when a callback completes and a proxy code is minted
func (a *Auditor) LogProxyCodeIssued(code, clientID string) {
	a.LogEvent(Event{
		Type:     EventProxyCodeIssued,
		ClientID: clientID,
		TokenRef: code,
	})
}

// LogTokenIssued logs when a proxy code is exchanged for a proxy access token
func (a *Auditor) LogTokenIssued(accessToken, clientID string, expiresIn int64) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		ClientID: clientID,
		TokenRef: accessToken,
		Details: map[string]any{
			"expires_in": expiresIn,
		},
	})
}

// LogGrantRejected logs a token endpoint request rejected with invalid_grant
func (a *Auditor) LogGrantRejected(grantType, clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventGrantRejected,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"reason":     reason,
		},
	})
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(clientID, clientName, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_name": clientName,
		},
	})
}

// LogTokenRejected logs a failed token validation
func (a *Auditor) LogTokenRejected(token, reason string) {
	a.LogEvent(Event{
		Type:     EventTokenRejected,
		TokenRef: token,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging creates a truncated SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
