package syncutils

import "github.com/pkg/errors"

// ConfigurationError is the error returned when a pass declares an access that
// the target queue cannot satisfy, such as a color-attachment write on a
// transfer-only queue. It indicates a programmer error in the pass
// declaration, reported at registration time.
var ConfigurationError error = errors.New("access is not compatible with the queue configuration")

// ExhaustedPoolError is the error returned at flush time when the transient
// allocator cannot satisfy a request within the pool's configured growth
// budget. The caller may retry with a smaller frame or a larger budget.
var ExhaustedPoolError error = errors.New("transient memory pool budget exhausted")

// StaleHandleError is the error returned when an access is declared against a
// resource that has already been destroyed. It always indicates a lifetime
// contract violation by the caller and is never recovered internally.
var StaleHandleError error = errors.New("resource handle is stale")

// FrameStateError is the error returned when an operation is attempted on a
// frame that is not in the required lifecycle state, such as registering a
// pass on a frame that has already been flushed.
var FrameStateError error = errors.New("frame is not in the required state")
