package flows

// MFADecision is the outcome of the second-factor dispatch for a user whose
// password already verified and who is enrolled in MFA.
type MFADecision int

const (
	MFADecisionBypassed MFADecision = iota + 1
	MFADecisionChallengeTOTP
	MFADecisionChallengeEmail
)

func (d MFADecision) String() string {
	switch d {
	case MFADecisionBypassed:
		return "bypassed"
	case MFADecisionChallengeTOTP:
		return "challenge_totp"
	case MFADecisionChallengeEmail:
		return "challenge_email"
	default:
		return "unknown"
	}
}

// MFADecisionInput holds everything DecideMFA looks at.
type MFADecisionInput struct {
	DeviceTrusted bool
	TOTPEnrolled  bool
	TOTPEnabled   bool
}

// DecideMFA picks exactly one outcome. A trusted device wins; otherwise TOTP
// is used when enrolled and globally enabled, and email is the fallback.
func DecideMFA(in MFADecisionInput) MFADecision {
	switch {
	case in.DeviceTrusted:
		return MFADecisionBypassed
	case in.TOTPEnrolled && in.TOTPEnabled:
		return MFADecisionChallengeTOTP
	default:
		return MFADecisionChallengeEmail
	}
}
