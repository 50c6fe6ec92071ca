package dispatch

// Container is implemented by the containers hosting an application.
type Container interface {
	// Configuration returns the configuration of the running application.
	Configuration() *Configuration

	// ApplicationHandler returns the engine currently serving requests.
	ApplicationHandler() *ApplicationHandler

	// Reload rebuilds the engine from the current application.
	Reload() error

	// ReloadWith rebuilds the engine from app.
	ReloadWith(app *Application) error
}

// LifecycleListener is notified of container lifecycle events.
type LifecycleListener interface {
	OnStartup(c Container)
	OnReload(c Container)
	OnShutdown(c Container)
}

// LifecycleFuncs adapts functions to a LifecycleListener. Nil functions are
// skipped.
type LifecycleFuncs struct {
	Startup  func(c Container)
	Reload   func(c Container)
	Shutdown func(c Container)
}

func (f LifecycleFuncs) OnStartup(c Container) {
	if f.Startup != nil {
		f.Startup(c)
	}
}

func (f LifecycleFuncs) OnReload(c Container) {
	if f.Reload != nil {
		f.Reload(c)
	}
}

func (f LifecycleFuncs) OnShutdown(c Container) {
	if f.Shutdown != nil {
		f.Shutdown(c)
	}
}
