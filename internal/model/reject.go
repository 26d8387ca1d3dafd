package model

// RejectReason classifies why an inbound envelope was dropped. Rejections are
// local only: nothing is acknowledged to the sender, so an unauthenticated
// party learns nothing from the outcome.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectAuthFailure      RejectReason = "auth_failure"
	RejectMalformed        RejectReason = "malformed_envelope"
	RejectWrongTarget      RejectReason = "wrong_target"
	RejectExpiredTimestamp RejectReason = "expired_timestamp"
	RejectReplayed         RejectReason = "replayed_envelope"
)
