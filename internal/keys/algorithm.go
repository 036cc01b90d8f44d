package keys

type Family string

const (
	FamilyHMAC  Family = "HMAC"
	FamilyRSA   Family = "RSA"
	FamilyECDSA Family = "ECDSA"
)

// FamilyOf classifies alg. Anything that is not RS*/ES* is treated as HMAC.
func FamilyOf(alg string) Family {
	switch alg {
	case "RS256", "RS384", "RS512":
		return FamilyRSA
	case "ES256", "ES384", "ES512":
		return FamilyECDSA
	default:
		return FamilyHMAC
	}
}

func IsAsymmetric(alg string) bool {
	return FamilyOf(alg) != FamilyHMAC
}
