// Package utils provides utility functions for generating unique identifiers
// used by the platform clients.
package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateReqID generates a request identifier for device management
// requests.
//
// Returns:
//   - string: A UUID v4 string in the format "xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx"
//
// Example:
//
//	reqId := GenerateReqID()
//	// Output: "550e8400-e29b-41d4-a716-446655440000"
//
// Note: Responses from the platform are correlated with requests using this
// value, so it must be unique per outstanding request.
func GenerateReqID() string {
	return generateUUID()
}

// GenerateDeviceID generates a short device identifier, suitable for the
// quickstart sandbox where devices are not registered in advance.
//
// Returns:
//   - string: The first 12 hex characters of a UUID v4, e.g. "550e8400e29b"
//
// Example:
//
//	deviceId := GenerateDeviceID()
//	// Output: "6ba7b8129dad"
func GenerateDeviceID() string {
	return strings.ReplaceAll(generateUUID(), "-", "")[:12]
}

// generateUUID is a helper function that generates a UUID v4 string.
//
// Note: This function is not exported and is intended for internal use only.
// Use the specific Generate* functions for different entity types instead.
func generateUUID() string {
	return uuid.New().String()
}
