package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dapaggregator/internal/dap"
)

func TestParseForVersion_RoundTrip(t *testing.T) {
	versions := []dap.Version{dap.VersionDraft02, dap.VersionDraft04}
	kinds := []MediaType{
		MediaTypeAggregationJobInitReq,
		MediaTypeAggregationJobResp,
		MediaTypeAggregationJobContinueReq,
		MediaTypeAggregateShareReq,
		MediaTypeAggregateShare,
		MediaTypeCollectReq,
		MediaTypeCollection,
		MediaTypeHpkeConfigList,
		MediaTypeReport,
	}

	for _, v := range versions {
		for _, k := range kinds {
			s, ok := StringForVersion(v, k)
			if !assert.True(t, ok, "missing string for %v/%v", v, k) {
				continue
			}
			parsed, ok := ParseForVersion(v, s)
			assert.True(t, ok)
			assert.Equal(t, k, parsed)
		}
	}
}

func TestParseForVersion_Draft02ContinueRespDoesNotCrossVersions(t *testing.T) {
	s, ok := StringForVersion(dap.VersionDraft02, MediaTypeDraft02AggregateContinueResp)
	assert.True(t, ok)

	// The draft02-only string must not parse under draft04: draft04 never
	// sends it.
	_, ok = ParseForVersion(dap.VersionDraft04, s)
	assert.False(t, ok)

	_, ok = StringForVersion(dap.VersionDraft04, MediaTypeDraft02AggregateContinueResp)
	assert.False(t, ok)
}

func TestParseForVersion_Missing(t *testing.T) {
	_, ok := ParseForVersion(dap.VersionDraft04, "")
	assert.False(t, ok)
}

func TestParseForVersion_Invalid(t *testing.T) {
	_, ok := ParseForVersion(dap.VersionDraft04, "application/json")
	assert.False(t, ok)
}

func TestAggregationJobContinueRespType(t *testing.T) {
	assert.Equal(t, MediaTypeDraft02AggregateContinueResp, AggregationJobContinueRespType(dap.VersionDraft02))
	assert.Equal(t, MediaTypeAggregationJobResp, AggregationJobContinueRespType(dap.VersionDraft04))
}

func TestMediaType_Sender(t *testing.T) {
	s, ok := MediaTypeReport.Sender()
	assert.True(t, ok)
	assert.Equal(t, dap.SenderClient, s)

	s, ok = MediaTypeCollectReq.Sender()
	assert.True(t, ok)
	assert.Equal(t, dap.SenderCollector, s)

	_, ok = MediaTypeUnknown.Sender()
	assert.False(t, ok)
}
