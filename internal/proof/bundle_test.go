package proof

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBundle() Bundle {
	return Bundle{
		TS:          FormatTime(time.Date(2025, 9, 16, 10, 0, 0, 123, time.UTC)),
		Decision:    "PASS",
		Obligations: []string{"privacy_ok"},
		KernelID:    "cm-kernel/v1",
		ParamHash:   "8f2289ee0273dc26f47fcc92aafda19bb15d247a7768d3b05702401490e0d2f4",
		Inputs:      Inputs{Amount: "1000", Country: "US", Recent: 0, TS: "2025-09-16T10:00:00Z"},
	}
}

func TestCanonicalBundleLayout(t *testing.T) {
	out, err := sampleBundle().Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"decision":"PASS","inputs":{"amount":"1000","country":"US","recent":0,"ts":"2025-09-16T10:00:00Z"},`+
			`"kernel_id":"cm-kernel/v1","obligations":["privacy_ok"],`+
			`"param_hash":"8f2289ee0273dc26f47fcc92aafda19bb15d247a7768d3b05702401490e0d2f4","ts":"2025-09-16T10:00:00Z"}`,
		string(out))
}

func TestCanonicalEmptyObligationsIsArray(t *testing.T) {
	b := sampleBundle()
	b.Obligations = nil
	out, err := b.Canonical()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"obligations":[]`)
}

func TestParseBundleRoundTrip(t *testing.T) {
	canon, err := sampleBundle().Canonical()
	require.NoError(t, err)

	parsed, err := ParseBundle(canon)
	require.NoError(t, err)
	again, err := parsed.Canonical()
	require.NoError(t, err)
	assert.Equal(t, canon, again)

	_, err = ParseBundle([]byte(`{"decision":"PASS","extra":1}`))
	assert.Error(t, err)
}

func TestProofID(t *testing.T) {
	canon := []byte(`{"a":1}`)
	sig := []byte{0x01, 0x02, 0x03}
	// sha256(`{"a":1}|AQID`)
	assert.Equal(t, ProofIDFromB64(canon, "AQID"), ProofID(canon, sig))
	assert.NotEqual(t, ProofID(canon, sig), ProofID(canon, []byte{0x01, 0x02, 0x04}))
	assert.Len(t, ProofID(canon, sig), 64)
}

func TestClaimsRebuildBundle(t *testing.T) {
	b := sampleBundle()
	claims := NewClaims(b, "proof", "c2ln")
	assert.Equal(t, Subject, claims.Subject)
	assert.Equal(t, b, claims.Bundle())
}
