package inverter

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the inverter driver based on flags.
func Configured() System {
	provider := lflag.String("inverter-provider", "goodwe", "Inverter driver to use (available: goodwe, mock)")

	var p struct{ System }

	gw := configuredGoodWe()

	lflag.Do(func() {
		switch *provider {
		case "goodwe":
			if err := gw.Validate(); err != nil {
				panic(fmt.Sprintf("goodwe validation failed: %v", err))
			}
			p.System = gw
		case "mock":
			p.System = NewMock()
		default:
			panic(fmt.Sprintf("unknown inverter provider: %s", *provider))
		}
	})

	return &p
}
