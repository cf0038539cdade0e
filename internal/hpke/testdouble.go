package hpke

import "dapaggregator/internal/dap"

// TestDouble is an HPKE Receiver/Sealer with no actual encryption: Open
// strips a fixed prefix Seal added, so tests can exercise config-id lookup
// and unknown-config/decrypt-error paths without any real cryptography.
// Never use outside tests.
type TestDouble struct {
	Configs map[ConfigID][]byte // config id -> opaque "public config" bytes
}

// NewTestDouble builds a TestDouble advertising the given config ids.
func NewTestDouble(configIDs ...ConfigID) *TestDouble {
	configs := make(map[ConfigID][]byte, len(configIDs))
	for _, id := range configIDs {
		configs[id] = []byte{id}
	}
	return &TestDouble{Configs: configs}
}

var sealPrefix = []byte("sealed:")

func (d *TestDouble) Open(ct dap.HpkeCiphertext, _, _ []byte) ([]byte, error) {
	if _, ok := d.Configs[ct.ConfigID]; !ok {
		return nil, dap.NewTransitionError(dap.TransitionHpkeUnknownConfig)
	}
	if len(ct.Payload) < len(sealPrefix) || string(ct.Payload[:len(sealPrefix)]) != string(sealPrefix) {
		return nil, dap.NewTransitionError(dap.TransitionHpkeDecryptError)
	}
	return ct.Payload[len(sealPrefix):], nil
}

func (d *TestDouble) ConfigList() []byte {
	out := make([]byte, 0, len(d.Configs))
	for id := range d.Configs {
		out = append(out, id)
	}
	return out
}

func (d *TestDouble) Seal(_, plaintext, _, _ []byte) (dap.HpkeCiphertext, error) {
	payload := append(append([]byte(nil), sealPrefix...), plaintext...)
	return dap.HpkeCiphertext{Payload: payload}, nil
}
