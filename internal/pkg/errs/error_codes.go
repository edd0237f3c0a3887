/*
Package errs provides custom error types and application-level error code constants.

Error codes identify specific business or system failures both internally
and in responses sent to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON is malformed.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates trailing content after the JSON body.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate exceeded the limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Party Business Logic Errors
const (
	// ErrPartyCodeExists indicates the generated party code collides with an active party.
	ErrPartyCodeExists = 2101

	// ErrPartyNotFound indicates the requested party code has no active party.
	ErrPartyNotFound = 2102

	// ErrPartyIsFull indicates the party has reached its member capacity.
	ErrPartyIsFull = 2103
)

// 3xxx: Profile Errors
const (
	// ErrProfileNotFound indicates the requested user profile does not exist.
	ErrProfileNotFound = 3101

	// ErrAvatarTypeInvalid indicates an unsupported avatar content type or size.
	ErrAvatarTypeInvalid = 3102
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified internal server error.
	ErrUnknown = 5000
)
