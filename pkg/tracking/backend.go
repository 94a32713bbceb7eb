package tracking

// Backend is one hardware connection polled each sampling tick. A backend
// implementation pumps its hardware protocol once per Poll and pushes any
// pending updates into the devices it was constructed with, via SetPose,
// SetButton, and SetAxis. The sampling service is agnostic to the concrete
// hardware protocol.
type Backend interface {
	Poll() error
}

// FuncBackend adapts a plain function to the Backend interface. Useful for
// in-process sources and tests.
type FuncBackend func() error

func (f FuncBackend) Poll() error { return f() }
