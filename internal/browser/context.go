// internal/browser/context.go
package browser

import (
	"context"
)

// CombineContext returns a context derived from primary that is also canceled
// when secondary is done. Values (the CDP target in particular) come from
// primary only; secondary contributes its cancellation.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
