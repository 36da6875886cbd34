package schema

// Inbound event types posted by the worker. Every inbound message is a JSON
// object tagged with a "type" field.
const (
	EventPush              = "PUSH"
	EventNotificationClick = "NOTIFICATION_CLICK"
	EventUpdateAvailable   = "UPDATE_AVAILABLE"
	EventUpdateActivated   = "UPDATE_ACTIVATED"
	EventStatus            = "STATUS"
)

// Outbound actions understood by the worker. Every outbound message is a JSON
// object tagged with an "action" field.
const (
	ActionInitialize      = "INITIALIZE"
	ActionCheckForUpdates = "CHECK_FOR_UPDATES"
	ActionActivateUpdate  = "ACTIVATE_UPDATE"
)
