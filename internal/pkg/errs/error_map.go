/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, WebSocket error events and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrUnknownCommand:       {Code: ErrUnknownCommand, Message: "Unsupported command %q."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room and Content Business Logic Errors
	ErrNotAMember:            {Code: ErrNotAMember, Message: "You are not a member of this room.", Status: http.StatusForbidden},
	ErrRoomNotFound:          {Code: ErrRoomNotFound, Message: "Chat room not found.", Status: http.StatusNotFound},
	ErrNotInRoom:             {Code: ErrNotInRoom, Message: "Join the room first."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrMessageEmpty:          {Code: ErrMessageEmpty, Message: "Message is empty."},
	ErrFileSizeTooLarge:      {Code: ErrFileSizeTooLarge, Message: "File is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrAttachmentInvalid:     {Code: ErrAttachmentInvalid, Message: "Invalid attachment.", Status: http.StatusBadRequest},

	// 3xxx: Session and Security Errors
	ErrNoToken:         {Code: ErrNoToken, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrInvalidSession:  {Code: ErrInvalidSession, Message: "Your session has expired. Please sign in again.", Status: http.StatusUnauthorized},
	ErrUnknownIdentity: {Code: ErrUnknownIdentity, Message: "Account not found.", Status: http.StatusUnauthorized},
	ErrSessionKicked:   {Code: ErrSessionKicked, Message: "You were signed in on another device."},
	ErrAuthUnavailable: {Code: ErrAuthUnavailable, Message: "Sign-in service unavailable. Please try again later.", Status: http.StatusServiceUnavailable},

	// 5xxx: Internal System Errors
	ErrUnknown:           {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrPersistence:       {Code: ErrPersistence, Message: "Message could not be saved. Please try again.", Status: http.StatusInternalServerError},
	ErrFileStorageFailed: {Code: ErrFileStorageFailed, Message: "File storage is unavailable. Please try again.", Status: http.StatusBadGateway},
}
