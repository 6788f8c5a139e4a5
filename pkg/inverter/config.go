package inverter

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the inverter system based on flags.
func Configured() System {
	provider := lflag.String("inverter-provider", "solis", "Inverter provider to use (available: solis, mock)")

	var p struct{ System }

	solis := configuredSolis()

	lflag.Do(func() {
		switch *provider {
		case "solis":
			if err := solis.Validate(); err != nil {
				panic(fmt.Sprintf("solis validation failed: %v", err))
			}
			p.System = solis
		case "mock":
			p.System = NewMock(50)
		default:
			panic(fmt.Sprintf("unknown inverter provider: %s", *provider))
		}
	})

	return &p
}
