package ess

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the Device based on flags.
func Configured() Device {
	provider := lflag.String("ess-provider", "tesla", "Energy storage provider (available: tesla, franklin, mock)")

	var d struct{ Device }

	t := configuredTesla()
	f := configuredFranklin()

	lflag.Do(func() {
		switch *provider {
		case "tesla":
			if err := t.Validate(); err != nil {
				panic(fmt.Sprintf("tesla validation failed: %v", err))
			}
			d.Device = t
		case "franklin":
			if err := f.Validate(); err != nil {
				panic(fmt.Sprintf("franklin validation failed: %v", err))
			}
			d.Device = f
		case "mock":
			d.Device = NewMock()
		default:
			panic(fmt.Sprintf("unknown ess provider: %s", *provider))
		}
	})

	return &d
}
