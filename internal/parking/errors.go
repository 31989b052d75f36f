package parking

import "github.com/fortune-cook1e/iot-smart-parking-system/internal/result"

// Domain errors for the parking package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, parking.ErrSpaceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrSpaceNotFound is returned when a parking space ID or sensor ID does not exist.
	ErrSpaceNotFound = result.New(result.CodeNotFound, "parking space not found")

	// ErrSensorExists is returned when creating a space whose sensor ID is taken.
	ErrSensorExists = result.New(result.CodeConflict, "parking space with this sensor ID already exists")

	// ErrSubscriptionNotFound is returned when deleting a subscription that does not exist.
	ErrSubscriptionNotFound = result.New(result.CodeNotFound, "subscription not found")

	// ErrAlreadySubscribed is returned when the (user, space) pair already exists.
	ErrAlreadySubscribed = result.New(result.CodeConflict, "already subscribed to this parking space")

	// ErrUserNotFound is returned when subscribing on behalf of a user that does not exist.
	ErrUserNotFound = result.New(result.CodeNotFound, "user not found")
)
