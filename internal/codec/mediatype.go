// Package codec maps DAP message kinds onto the HTTP content-type strings
// each wire-protocol draft uses for them. Nothing outside this package
// branches on dap.Version to pick a string; every other layer deals purely
// in MediaType values.
package codec

import "dapaggregator/internal/dap"

// MediaType identifies the kind of a DAP message independent of which
// draft's content-type string names it on the wire.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeAggregationJobInitReq
	MediaTypeAggregationJobResp
	MediaTypeAggregationJobContinueReq
	// MediaTypeDraft02AggregateContinueResp exists only because draft02 uses
	// a distinct content-type for the response to an aggregate-continue
	// request, where later drafts reuse MediaTypeAggregationJobResp.
	MediaTypeDraft02AggregateContinueResp
	MediaTypeAggregateShareReq
	MediaTypeAggregateShare
	MediaTypeCollectReq
	MediaTypeCollection
	MediaTypeHpkeConfigList
	MediaTypeReport
)

// Sender identifies which DAP role is expected to send a message of this
// kind, when that's determined by the kind alone.
func (m MediaType) Sender() (dap.Sender, bool) {
	switch m {
	case MediaTypeAggregationJobInitReq, MediaTypeAggregationJobContinueReq,
		MediaTypeAggregateShareReq, MediaTypeCollection, MediaTypeHpkeConfigList:
		return dap.SenderLeader, true
	case MediaTypeAggregationJobResp, MediaTypeDraft02AggregateContinueResp, MediaTypeAggregateShare:
		return dap.SenderHelper, true
	case MediaTypeReport:
		return dap.SenderClient, true
	case MediaTypeCollectReq:
		return dap.SenderCollector, true
	default:
		return dap.SenderUnknown, false
	}
}

const (
	draft02AggContReq    = "application/dap-aggregate-continue-req"
	draft02AggContResp   = "application/dap-aggregate-continue-resp"
	draft02AggInitReq    = "application/dap-aggregate-initialize-req"
	draft02AggInitResp   = "application/dap-aggregate-initialize-resp"
	draft02AggShareResp  = "application/dap-aggregate-share-resp"
	draft02CollectResp   = "application/dap-collect-resp"
	draft02HpkeConfig    = "application/dap-hpke-config"
	aggJobContReq        = "application/dap-aggregation-job-continue-req"
	aggJobInitReq        = "application/dap-aggregation-job-init-req"
	aggJobResp           = "application/dap-aggregation-job-resp"
	aggShareReq          = "application/dap-aggregate-share-req"
	aggShare             = "application/dap-aggregate-share"
	collection           = "application/dap-collection"
	collectReq           = "application/dap-collect-req"
	hpkeConfigList       = "application/dap-hpke-config-list"
	report               = "application/dap-report"
)

type versionedType struct {
	version dap.Version
	typ     MediaType
}

// byString maps a content-type string, keyed by version, to a MediaType.
// Each draft has its own table; strings that are identical across drafts
// (report, collect-req, agg-share-req) appear in both.
var byString = map[dap.Version]map[string]MediaType{
	dap.VersionDraft02: {
		draft02AggContReq:   MediaTypeAggregationJobContinueReq,
		draft02AggContResp:  MediaTypeDraft02AggregateContinueResp,
		draft02AggInitReq:   MediaTypeAggregationJobInitReq,
		draft02AggInitResp:  MediaTypeAggregationJobResp,
		draft02AggShareResp: MediaTypeAggregateShare,
		draft02CollectResp:  MediaTypeCollection,
		draft02HpkeConfig:   MediaTypeHpkeConfigList,
		aggShareReq:         MediaTypeAggregateShareReq,
		collectReq:          MediaTypeCollectReq,
		report:              MediaTypeReport,
	},
	dap.VersionDraft04: {
		aggJobContReq:  MediaTypeAggregationJobContinueReq,
		aggJobInitReq:  MediaTypeAggregationJobInitReq,
		aggJobResp:     MediaTypeAggregationJobResp,
		aggShare:       MediaTypeAggregateShare,
		collection:     MediaTypeCollection,
		hpkeConfigList: MediaTypeHpkeConfigList,
		aggShareReq:    MediaTypeAggregateShareReq,
		collectReq:     MediaTypeCollectReq,
		report:         MediaTypeReport,
	},
}

var toString = map[versionedType]string{
	{dap.VersionDraft02, MediaTypeAggregationJobInitReq}:            draft02AggInitReq,
	{dap.VersionDraft04, MediaTypeAggregationJobInitReq}:            aggJobInitReq,
	{dap.VersionDraft02, MediaTypeAggregationJobResp}:                draft02AggInitResp,
	{dap.VersionDraft04, MediaTypeAggregationJobResp}:                aggJobResp,
	{dap.VersionDraft02, MediaTypeAggregationJobContinueReq}:         draft02AggContReq,
	{dap.VersionDraft04, MediaTypeAggregationJobContinueReq}:         aggJobContReq,
	{dap.VersionDraft02, MediaTypeDraft02AggregateContinueResp}:      draft02AggContResp,
	{dap.VersionDraft02, MediaTypeAggregateShareReq}:                 aggShareReq,
	{dap.VersionDraft04, MediaTypeAggregateShareReq}:                 aggShareReq,
	{dap.VersionDraft02, MediaTypeAggregateShare}:                    draft02AggShareResp,
	{dap.VersionDraft04, MediaTypeAggregateShare}:                    aggShare,
	{dap.VersionDraft02, MediaTypeCollectReq}:                        collectReq,
	{dap.VersionDraft04, MediaTypeCollectReq}:                        collectReq,
	{dap.VersionDraft02, MediaTypeCollection}:                        draft02CollectResp,
	{dap.VersionDraft04, MediaTypeCollection}:                        collection,
	{dap.VersionDraft02, MediaTypeHpkeConfigList}:                    draft02HpkeConfig,
	{dap.VersionDraft04, MediaTypeHpkeConfigList}:                    hpkeConfigList,
	{dap.VersionDraft02, MediaTypeReport}:                            report,
	{dap.VersionDraft04, MediaTypeReport}:                            report,
}

// ParseForVersion parses a content-type header value into a MediaType under
// the given draft. An empty contentType (no header present) and an
// unrecognized string are both reported via ok=false, mirroring the
// Missing/Invalid distinction draft implementations need to make at the
// HTTP boundary; the caller can tell them apart by checking contentType=="".
func ParseForVersion(version dap.Version, contentType string) (MediaType, bool) {
	if contentType == "" {
		return MediaTypeUnknown, false
	}
	table, ok := byString[version]
	if !ok {
		return MediaTypeUnknown, false
	}
	m, ok := table[contentType]
	return m, ok
}

// StringForVersion renders the content-type string a message of kind m is
// sent with under the given draft. Not every (version, MediaType) pair is
// defined: MediaTypeDraft02AggregateContinueResp has no draft04 rendering
// because draft04 folds it into MediaTypeAggregationJobResp.
func StringForVersion(version dap.Version, m MediaType) (string, bool) {
	s, ok := toString[versionedType{version, m}]
	return s, ok
}

// AggregationJobContinueRespType returns the MediaType a response to an
// AggregationJobContinueReq is sent as, which draft02 alone represents with
// a dedicated media type.
func AggregationJobContinueRespType(version dap.Version) MediaType {
	if version == dap.VersionDraft02 {
		return MediaTypeDraft02AggregateContinueResp
	}
	return MediaTypeAggregationJobResp
}
