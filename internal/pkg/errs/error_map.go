/*
Package errs provides custom error types and application-level error code constants.

This file maps every error code to its CustomError template, standardizing
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Party Business Logic Errors
	ErrPartyCodeExists: {Code: ErrPartyCodeExists, Message: "Party code already exists."},
	ErrPartyNotFound:   {Code: ErrPartyNotFound, Message: "Party not found."},
	ErrPartyIsFull:     {Code: ErrPartyIsFull, Message: "This party is full."},

	// 3xxx: Profile Errors
	ErrProfileNotFound:   {Code: ErrProfileNotFound, Message: "Profile not found.", Status: http.StatusNotFound},
	ErrAvatarTypeInvalid: {Code: ErrAvatarTypeInvalid, Message: "Invalid avatar file."},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
