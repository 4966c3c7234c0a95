package cnwcommercial

// The fragments below are declared apart so the assembled strings do not
// appear verbatim in the binary. This is obfuscation only.

const sigFragmentA = "cnw-"

var sigFragmentB = "commercial-"

const (
	endpointFragmentA = "cnw"
	endpointFragmentB = "-endpoint"
)

var sigFragments = [...]string{"sig-", "2024"}

var endpointFragments = [...]string{"-vault", "-2024"}

// DeriveSharedSecret assembles the secret used to sign and verify commercial
// requests. Signer and Verifier both default to it.
func DeriveSharedSecret() string {
	s := sigFragmentA + sigFragmentB
	for _, f := range sigFragments {
		s += f
	}
	return s
}

// endpointSecret assembles the base secret the Registry mixes with each
// server type name to decrypt endpoint ciphertexts.
func endpointSecret() string {
	s := endpointFragmentA + endpointFragmentB
	for _, f := range endpointFragments {
		s += f
	}
	return s
}
