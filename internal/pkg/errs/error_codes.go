/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally within the
server and in the private `error` events delivered to the connection that caused them.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request or command parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body or command frame is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrUnknownCommand indicates a WebSocket frame carried a command type the server does not accept.
	ErrUnknownCommand = 1005

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room and Content Business Logic Errors
const (
	// ErrNotAMember indicates the identity holds no durable membership for the room.
	ErrNotAMember = 2101

	// ErrRoomNotFound indicates that the room does not exist in the durable store.
	ErrRoomNotFound = 2103

	// ErrNotInRoom indicates a room-scoped command arrived for a room the identity has not joined.
	ErrNotInRoom = 2105

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageEmpty indicates a text message with no content.
	ErrMessageEmpty = 2202

	// ErrFileSizeTooLarge indicates an attachment larger than the permitted size.
	ErrFileSizeTooLarge = 2301

	// ErrAttachmentInvalid indicates an attachment descriptor failed validation.
	ErrAttachmentInvalid = 2302
)

// 3xxx: Session and Security Errors
const (
	// ErrNoToken indicates the connection presented no bearer token.
	ErrNoToken = 3001

	// ErrInvalidSession indicates the token does not resolve to a live session.
	ErrInvalidSession = 3002

	// ErrUnknownIdentity indicates the session resolved to an identity with no durable user record.
	ErrUnknownIdentity = 3003

	// ErrSessionKicked indicates that the connection was replaced by a newer one for the same identity.
	ErrSessionKicked = 3004

	// ErrAuthUnavailable indicates the session store could not be reached in time.
	ErrAuthUnavailable = 3005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrPersistence indicates the durable store rejected a write.
	ErrPersistence = 5001

	// ErrFileStorageFailed indicates the blob store failed to serve a request.
	ErrFileStorageFailed = 5002
)
