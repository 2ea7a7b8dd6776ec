package passauth

// DiscoveryDocument is the static metadata resource-server integrations need
// to validate tokens without a shared deployment config.
type DiscoveryDocument struct {
	Issuer                   string   `json:"issuer"`
	JWKSURI                  string   `json:"jwks_uri,omitempty"`
	TokenEndpoint            string   `json:"token_endpoint,omitempty"`
	GrantTypesSupported      []string `json:"grant_types_supported"`
	SigningAlgsSupported     []string `json:"id_token_signing_alg_values_supported"`
	CodeChallengeMethodsSupp []string `json:"code_challenge_methods_supported,omitempty"`
}

// Discovery describes the discovery operation and its observable behavior.
//
// Discovery may return an error when input validation, dependency calls, or security checks fail.
// Discovery does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Discovery() DiscoveryDocument {
	doc := DiscoveryDocument{
		Issuer:        e.config.Issuer,
		TokenEndpoint: e.config.JWT.TokenEndpoint,
		GrantTypesSupported: []string{
			"urn:ietf:params:oauth:grant-type:token-exchange",
			"refresh_token",
		},
	}

	switch e.config.JWT.SigningMethod {
	case "hs256":
		doc.SigningAlgsSupported = []string{"HS256"}
	default:
		doc.SigningAlgsSupported = []string{"EdDSA"}
		doc.JWKSURI = e.config.Issuer + "/.well-known/jwks.json"
	}

	return doc
}

// JWKS describes the jwks operation and its observable behavior.
//
// JWKS may return an error when input validation, dependency calls, or security checks fail.
// JWKS does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) JWKS() ([]byte, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	return e.jwtManager.JWKS()
}
