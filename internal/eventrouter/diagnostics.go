package eventrouter

// These constants name the router's own lifecycle/trace events, all posted
// on the local dispatch only (never forwarded to the broker) so operators
// can observe routing decisions without instrumenting the broker itself.
const (
	RouterStarted                  = "router.started"
	RouterReady                    = "router.ready"
	RouterFailedToReachEventCenter = "router.failed_to_reach_event_center"
	RouterGotInternalEvent         = "router.got_internal_event"
	RouterGotExternalEvent         = "router.got_external_event"
	RouterPropagatingInternalEvent = "router.propagating_internal_event"
	RouterNotPropagatingInternal   = "router.not_propagating_internal_event"
	RouterNotPropagatingExternal   = "router.not_propagating_external_event"
)
