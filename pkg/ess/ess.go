// Package ess talks to the energy storage systems whose backup reserve the
// schedules control.
package ess

import (
	"context"
	"errors"

	"github.com/peakshift/peakshift/pkg/types"
)

// ErrSiteNotFound is returned when the vendor does not know the site.
var ErrSiteNotFound = errors.New("energy site not found")

// Device defines the interface for reading and setting a battery's backup
// reserve on behalf of a user.
type Device interface {
	// ListSites returns the schedulable battery sites of the user.
	ListSites(ctx context.Context, userID string) ([]types.EnergySite, error)

	// GetBackupReserve returns the site's current backup reserve percentage.
	// An error means the value could not be read.
	GetBackupReserve(ctx context.Context, userID, siteID string) (int, error)

	// SetBackupReserve asks the site to hold percent in reserve. It returns
	// false without error when the vendor answered but did not accept the
	// command, and an error when the vendor could not be reached.
	SetBackupReserve(ctx context.Context, userID, siteID string, percent int) (bool, error)
}
