//go:build !linux

package rtkit

func MakeCurrentThreadRealtime(priority uint32) error {
	return ErrUnsupported
}
