package dialplan

// causeCodes are the cause names accepted by the Asterisk Hangup
// application.
var causeCodes = map[string]bool{
	"UNALLOCATED":                   true,
	"NO_ROUTE_TRANSIT_NET":          true,
	"NO_ROUTE_DESTINATION":          true,
	"MISDIALLED_TRUNK_PREFIX":       true,
	"CHANNEL_UNACCEPTABLE":          true,
	"CALL_AWARDED_DELIVERED":        true,
	"PRE_EMPTED":                    true,
	"NUMBER_PORTED_NOT_HERE":        true,
	"NORMAL_CLEARING":               true,
	"USER_BUSY":                     true,
	"NO_USER_RESPONSE":              true,
	"NO_ANSWER":                     true,
	"SUBSCRIBER_ABSENT":             true,
	"CALL_REJECTED":                 true,
	"NUMBER_CHANGED":                true,
	"REDIRECTED_TO_NEW_DESTINATION": true,
	"ANSWERED_ELSEWHERE":            true,
	"DESTINATION_OUT_OF_ORDER":      true,
	"INVALID_NUMBER_FORMAT":         true,
	"FACILITY_REJECTED":             true,
	"RESPONSE_TO_STATUS_ENQUIRY":    true,
	"NORMAL_UNSPECIFIED":            true,
	"NORMAL_CIRCUIT_CONGESTION":     true,
	"NETWORK_OUT_OF_ORDER":          true,
	"NORMAL_TEMPORARY_FAILURE":      true,
	"SWITCH_CONGESTION":             true,
	"ACCESS_INFO_DISCARDED":         true,
	"REQUESTED_CHAN_UNAVAIL":        true,
	"FACILITY_NOT_SUBSCRIBED":       true,
	"OUTGOING_CALL_BARRED":          true,
	"INCOMING_CALL_BARRED":          true,
	"BEARERCAPABILITY_NOTAUTH":      true,
	"BEARERCAPABILITY_NOTAVAIL":     true,
	"BEARERCAPABILITY_NOTIMPL":      true,
	"CHAN_NOT_IMPLEMENTED":          true,
	"FACILITY_NOT_IMPLEMENTED":      true,
	"INVALID_CALL_REFERENCE":        true,
	"INCOMPATIBLE_DESTINATION":      true,
	"INVALID_MSG_UNSPECIFIED":       true,
	"MANDATORY_IE_MISSING":          true,
	"MESSAGE_TYPE_NONEXIST":         true,
	"WRONG_MESSAGE":                 true,
	"IE_NONEXIST":                   true,
	"INVALID_IE_CONTENTS":           true,
	"WRONG_CALL_STATE":              true,
	"RECOVERY_ON_TIMER_EXPIRE":      true,
	"MANDATORY_IE_LENGTH_ERROR":     true,
	"PROTOCOL_ERROR":                true,
	"INTERWORKING":                  true,
}

// ValidCause reports whether cause is a named Asterisk cause code or a
// numeric one.
func ValidCause(cause string) bool {
	return causeCodes[cause] || isNumeric(cause)
}

// Hangup ends the call, optionally with a cause code.
type Hangup struct {
	Cause string
}

func (Hangup) AppName() string { return "Hangup" }

func (h Hangup) Assemble() (string, string) { return h.AppName(), h.Cause }

func parseHangup(appdata string) (Application, error) {
	if appdata == "" {
		return Hangup{}, nil
	}
	if !ValidCause(appdata) {
		return nil, nil
	}
	return Hangup{Cause: appdata}, nil
}
