// Package hotkey delivers the global record toggle (Ctrl+Shift+R)
// without the daemon holding keyboard focus.
package hotkey

type Hotkey interface {
	Register() error
	Unregister()
	// Toggled fires once per completed press of the combo.
	Toggled() <-chan struct{}
}
