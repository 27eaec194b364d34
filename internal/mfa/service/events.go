package service

// Event types recorded for MFA state changes.
const (
	EventDeviceCreated     = "mfa.device.created"
	EventDeviceActivated   = "mfa.device.activated"
	EventDeviceRevoked     = "mfa.device.revoked"
	EventPinFailed         = "mfa.pin.failed"
	EventPinLocked         = "mfa.pin.locked"
	EventChallengeCreated  = "mfa.challenge.created"
	EventChallengeApproved = "mfa.challenge.approved"
	EventChallengeDenied   = "mfa.challenge.denied"
)

const eventSource = "mfa-qr"
