package jwt

import (
	"encoding/json"
	"errors"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKS renders the verification keys as an RFC 7517 key set so resource
// servers can validate access tokens without calling back into the engine.
// HS256 deployments have no publishable key and get an error.
func (j *Manager) JWKS() ([]byte, error) {
	if j.config.SigningMethod != MethodEd25519 {
		return nil, errors.New("jwks requires an asymmetric signing method")
	}

	set := jwk.NewSet()

	appendKey := func(kid string, raw []byte) error {
		pub, err := parseEdPublicKey(raw)
		if err != nil {
			return err
		}
		key, err := jwk.FromRaw(pub)
		if err != nil {
			return err
		}
		if kid != "" {
			if err := key.Set(jwk.KeyIDKey, kid); err != nil {
				return err
			}
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.EdDSA); err != nil {
			return err
		}
		if err := key.Set(jwk.KeyUsageKey, string(jwk.ForSignature)); err != nil {
			return err
		}
		return set.AddKey(key)
	}

	if len(j.config.VerifyKeys) > 0 {
		for kid, raw := range j.config.VerifyKeys {
			if err := appendKey(kid, raw); err != nil {
				return nil, err
			}
		}
	} else {
		if err := appendKey(j.config.KeyID, j.config.PublicKey); err != nil {
			return nil, err
		}
	}

	return json.Marshal(set)
}
