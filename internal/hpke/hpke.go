// Package hpke defines the boundary the aggregator core consumes HPKE
// encryption and decryption through. HPKE itself is out of scope (spec.md
// §1): the core calls through this interface with the fixed info/aad
// structure DAP specifies and never touches key material directly.
package hpke

import "dapaggregator/internal/dap"

// ConfigID identifies one of an aggregator's advertised HPKE receiver
// configs, carried alongside a HpkeCiphertext so the receiver knows which
// private key to decrypt with.
type ConfigID = uint8

// Receiver decrypts input shares addressed to one of this aggregator's
// advertised HPKE configs.
type Receiver interface {
	// Open decrypts ct using the receiver config identified by ct.ConfigID,
	// with the given info and aad (spec.md §4.4: "info=domain_string(version),
	// aad=metadata"). Returns dap.TransitionHpkeUnknownConfig wrapped as a
	// *dap.Transition if ct.ConfigID names no config this receiver holds,
	// or dap.TransitionHpkeDecryptError if decryption fails for any other
	// reason.
	Open(ct dap.HpkeCiphertext, info, aad []byte) ([]byte, error)

	// ConfigList returns the receiver's currently advertised configs,
	// serialized as the operator-introspection HpkeConfigList response
	// body (spec.md §6). The core treats the bytes as opaque.
	ConfigList() []byte
}

// Sealer encrypts data to an externally supplied HPKE public config, used
// to seal collection results to the Collector's advertised config.
type Sealer interface {
	Seal(recipientConfig, plaintext, info, aad []byte) (dap.HpkeCiphertext, error)
}

// DomainString renders the HPKE "info" prefix DAP specifies per version,
// the only version-dependent detail the core's crypto call sites need.
func DomainString(version dap.Version) []byte {
	switch version {
	case dap.VersionDraft02:
		return []byte("dap-02 input share")
	default:
		return []byte("dap-04 input share")
	}
}
